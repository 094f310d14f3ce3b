package contracts

// EventSink receives the internal event stream and encodes it onto the wire.
// Every WriteContent is flushed before the next is produced; Close writes the
// terminal sentinel exactly once and is safe to call after WriteError.
type EventSink interface {
	WriteContent(text string) error
	WriteError(message string) error
	Close() error
}

// ConnectionState tracks client connection status
type ConnectionState interface {
	IsConnected() bool
	Done() <-chan struct{}
}
