package session

import "context"

// Transport is one client connection. WriteMessage is never called
// concurrently; ReadMessage runs on its own goroutine.
type Transport interface {
	WriteMessage(ctx context.Context, binary bool, data []byte) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}
