package types

// FrameKind discriminates decoded stream frames.
type FrameKind int

const (
	// FrameDelta carries an incremental fragment of assistant text.
	FrameDelta FrameKind = iota
	// FrameTerminator marks the end of the streamed response.
	FrameTerminator
	// FrameMalformed marks a data record that could not be parsed. The
	// record is dropped; the stream continues.
	FrameMalformed
)

// String returns a human-readable frame kind.
func (k FrameKind) String() string {
	switch k {
	case FrameDelta:
		return "delta"
	case FrameTerminator:
		return "terminator"
	case FrameMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// StreamFrame is one decoded unit of a streamed chat response. Frames are
// transient; consumers apply them and move on.
type StreamFrame struct {
	Kind FrameKind
	Text string
}

// DeltaFrame creates a delta frame.
func DeltaFrame(text string) StreamFrame {
	return StreamFrame{Kind: FrameDelta, Text: text}
}

// TerminatorFrame creates a terminator frame.
func TerminatorFrame() StreamFrame {
	return StreamFrame{Kind: FrameTerminator}
}

// MalformedFrame creates a malformed frame.
func MalformedFrame() StreamFrame {
	return StreamFrame{Kind: FrameMalformed}
}
