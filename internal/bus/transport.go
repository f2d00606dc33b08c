package bus

import "context"

// TransportMessage is a raw message delivered by a transport connection.
type TransportMessage struct {
	Subject string
	Payload []byte
}

// Transport dials the underlying pub/sub system. Each successful Connect
// yields a fresh Conn; the Gateway redials through the Transport whenever
// a Conn reports loss.
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a live connection to the bus.
type Conn interface {
	// Subscribe registers interest in a subject pattern ("*" is the
	// trailing wildcard). The returned channel closes when the
	// subscription ends, including on connection loss.
	Subscribe(ctx context.Context, pattern string) (<-chan TransportMessage, error)

	// Publish sends a payload on a subject.
	Publish(ctx context.Context, subject string, payload []byte) error

	// Done is closed when the connection is lost.
	Done() <-chan struct{}

	Close() error
}
