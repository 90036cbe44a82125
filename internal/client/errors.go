package client

import (
	"errors"
	"fmt"
)

var (
	// ErrToggleInFlight is returned when a toggle of the same capability has
	// not settled yet. Nothing changes and nothing is sent.
	ErrToggleInFlight = errors.New("toggle already in progress")
	ErrNotConnected   = errors.New("not connected")
	ErrChannelClosed  = errors.New("signaling channel closed")
)

// RegistryError is a non-2xx answer of the session registry.
type RegistryError struct {
	Status  int
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: %d %s", e.Status, e.Message)
}
