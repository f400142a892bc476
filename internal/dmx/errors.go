package dmx

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidChannelNumber = errors.New("invalid channel number")
	ErrInvalidChannelValue  = errors.New("invalid channel value")
	ErrInvalidCount         = errors.New("invalid channel count")
	ErrOperationCancelled   = errors.New("operation cancelled")
	ErrSubscriberNotFound   = errors.New("subscriber not found")
)

// ChannelNumberError carries the rejected channel number.
type ChannelNumberError struct {
	Channel int
}

func (e *ChannelNumberError) Error() string {
	return fmt.Sprintf("%v: %d is not within %d to %d inclusive",
		ErrInvalidChannelNumber, e.Channel, MinChannel, MaxChannel)
}

func (e *ChannelNumberError) Unwrap() error { return ErrInvalidChannelNumber }

// ChannelValueError carries the rejected slot value.
type ChannelValueError struct {
	Value int
}

func (e *ChannelValueError) Error() string {
	return fmt.Sprintf("%v: %d is not within %d to %d inclusive",
		ErrInvalidChannelValue, e.Value, MinValue, MaxValue)
}

func (e *ChannelValueError) Unwrap() error { return ErrInvalidChannelValue }
