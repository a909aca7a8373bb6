package room

import (
	"errors"
	"fmt"
)

// Lookup failures. They are reported to the requesting client and never end
// the connection.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")
)

// Media engine failures, wrapped with the engine's detail.
var (
	ErrTransport = errors.New("transport error")
	ErrProducer  = errors.New("producer error")
	ErrConsumer  = errors.New("consumer error")
)

var (
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrPeerQueueFull    = errors.New("peer outbound queue full")
	// ErrRoomClosed is returned when joining a room that was collected after
	// its last peer left.
	ErrRoomClosed = errors.New("room closed")
)

func notFound(kind error, id string) error {
	return fmt.Errorf("%w: %s", kind, id)
}

func engineErr(kind error, err error) error {
	return fmt.Errorf("%w: %v", kind, err)
}
