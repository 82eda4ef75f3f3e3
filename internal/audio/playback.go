package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	opus "gopkg.in/hraban/opus.v2"
)

// maxFrameSamples is the largest opus frame (120ms at 48kHz).
const maxFrameSamples = 5760

// Speaker plays remote opus frames through the default output device. It
// satisfies assistant.AudioSink; the oto player pulls decoded PCM from an
// internal buffer, padded with silence when the remote side is quiet.
type Speaker struct {
	player *oto.Player
	dec    *opus.Decoder

	mu     sync.Mutex
	buf    []byte
	closed bool

	pcm []int16
}

// NewSpeaker initializes the output device and starts the player.
func NewSpeaker() (*Speaker, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s := &Speaker{
		dec: dec,
		pcm: make([]int16, maxFrameSamples),
	}
	s.player = otoCtx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Write decodes one opus frame and queues it for playback.
func (s *Speaker) Write(frame []byte) error {
	n, err := s.dec.Decode(frame, s.pcm)
	if err != nil {
		return fmt.Errorf("opus decode: %w", err)
	}

	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		b[2*i] = byte(s.pcm[i])
		b[2*i+1] = byte(s.pcm[i] >> 8)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.buf = append(s.buf, b...)
	return nil
}

// Read feeds the oto player. An empty buffer yields silence so playback
// never underruns between remote frames.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if n == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	return n, nil
}

// Close stops playback. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.player.Close()
}
