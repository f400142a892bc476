package artnet

// ChannelValue defines an ArtNet Universe and the value of the DMX channel.
type ChannelValue struct {
	Channel uint16 // Channel: номер канала (1-512).
	Value   uint8  // Value: значение для канала.
}

// Universe wraps the 512 byte array for convenience.
type Universe [512]byte

func (u Universe) toByteSlice() [512]byte {
	return u
}

// NodeInfo describes a node seen by the Art-Net controller.
type NodeInfo struct {
	Name    string
	Summary string
	Outputs []string
}
