package presence

import "github.com/tbourn/go-dm-backend/internal/event"

// Conn is one live push connection.
//
// Send must not block: implementations enqueue and return ErrSlowConsumer
// when they cannot accept more, or ErrClosed once shut down. ID is unique
// per connection for the lifetime of the process.
type Conn interface {
	Send(ev event.Event) error
	ID() string
}
