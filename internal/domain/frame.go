package domain

// OutboundFrame is a control-socket message built right before it is sent.
// Implemented by AudioChunk and SpeakText only.
type OutboundFrame interface {
	isOutboundFrame()
}

// AudioChunk carries 16-bit little-endian mono PCM.
type AudioChunk struct {
	PCM []byte
}

type SpeakText struct {
	Text string
}

func (AudioChunk) isOutboundFrame() {}
func (SpeakText) isOutboundFrame()  {}
