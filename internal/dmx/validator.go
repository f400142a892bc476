package dmx

const (
	// Channels is the number of slots in a DMX512 universe.
	Channels = 512

	// Channel numbers are 1-based.
	MinChannel = 1
	MaxChannel = Channels

	MinValue = 0
	MaxValue = 255
)

// ValidateChannelNumber reports whether n is a channel number (1-512).
func ValidateChannelNumber(n int) bool {
	return n >= MinChannel && n <= MaxChannel
}

// ValidateChannelValue reports whether v is a slot value (0-255).
func ValidateChannelValue(v int) bool {
	return v >= MinValue && v <= MaxValue
}

func checkChannel(n int) error {
	if !ValidateChannelNumber(n) {
		return &ChannelNumberError{Channel: n}
	}
	return nil
}

func checkValue(v int) error {
	if !ValidateChannelValue(v) {
		return &ChannelValueError{Value: v}
	}
	return nil
}
