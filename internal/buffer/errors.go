package buffer

import (
	"errors"
	"fmt"
)

var (
	ErrPoolExhausted = errors.New("pool exhausted")
	ErrRingFull      = errors.New("ring full")
	ErrRingClosed    = errors.New("ring closed")
)

// ErrPoolExhaustedDetailed describes which pool ran dry
type ErrPoolExhaustedDetailed struct {
	Pool     string
	Capacity int
	InUse    int
}

func (e *ErrPoolExhaustedDetailed) Error() string {
	return fmt.Sprintf("pool %s exhausted: %d of %d buffers in use", e.Pool, e.InUse, e.Capacity)
}

func (e *ErrPoolExhaustedDetailed) Unwrap() error {
	return ErrPoolExhausted
}
