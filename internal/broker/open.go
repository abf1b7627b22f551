package broker

import (
	"fmt"
	"log/slog"
	"strings"
)

// Open returns a broker for url. "memory://" selects the in-process broker,
// which only connects services running in the same binary.
func Open(url string, logger *slog.Logger) (Broker, error) {
	switch {
	case strings.HasPrefix(url, "memory://"):
		return NewMemory(logger), nil
	case strings.HasPrefix(url, "amqp://"), strings.HasPrefix(url, "amqps://"):
		return DialAMQP(url, logger)
	default:
		return nil, fmt.Errorf("unsupported broker url %q", url)
	}
}
