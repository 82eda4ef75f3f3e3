package assistant

import (
	"context"
	"time"
)

// CaptureDevice opens exclusive access to a local audio input. Exactly
// one AudioSource is open per voice session; denial of access must be
// reported as a permission error.
type CaptureDevice interface {
	Open(ctx context.Context) (AudioSource, error)
}

// AudioSource yields encoded audio frames ready for the outbound track.
// Next blocks until a frame is available and returns io.EOF after Close.
type AudioSource interface {
	Next() (frame []byte, duration time.Duration, err error)
	Close() error
}

// AudioSink receives encoded frames from the remote audio track. A nil
// sink on the controller means remote audio is discarded.
type AudioSink interface {
	Write(frame []byte) error
	Close() error
}
