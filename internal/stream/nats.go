// internal/stream/nats.go
package stream

import (
	"time"

	"github.com/nats-io/nats.go"
)

// Connect dials NATS with reconnects enabled indefinitely.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("fatiguedetector"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}
