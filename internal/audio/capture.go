// Package audio provides the production microphone and speaker adapters
// behind the assistant's CaptureDevice/AudioSink interfaces: malgo for
// device I/O, opus for the codec the peer connection carries.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core"
	assistant "github.com/Caleb-Tech001/study-earn-sub001/sdk"
)

const (
	sampleRate = 48000
	channels   = 1

	frameDuration = 20 * time.Millisecond
	frameSamples  = sampleRate / 50 // 20ms
	frameBytes    = frameSamples * 2

	maxOpusPacket = 4000
)

// Device is a malgo-backed microphone satisfying assistant.CaptureDevice.
// One Device can open one source at a time; the source owns the capture
// device handle until closed.
type Device struct {
	ctx *malgo.AllocatedContext
}

// NewDevice initializes the audio backend context.
func NewDevice() (*Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Device{ctx: mctx}, nil
}

// Open acquires the microphone and starts capturing. Failure to open or
// start the device is reported as a permission error: on every supported
// platform that is what a denied or busy microphone looks like.
func (d *Device) Open(_ context.Context) (assistant.AudioSource, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	src := &captureSource{
		enc:    enc,
		pcm:    make([]int16, frameSamples),
		packet: make([]byte, maxOpusPacket),
	}
	src.cond = sync.NewCond(&src.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			src.push(input)
		},
	}

	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, core.NewPermissionError(fmt.Sprintf("microphone unavailable: %v", err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, core.NewPermissionError(fmt.Sprintf("microphone start failed: %v", err))
	}
	src.device = device
	return src, nil
}

// Close releases the audio backend context.
func (d *Device) Close() error {
	if err := d.ctx.Uninit(); err != nil {
		return err
	}
	d.ctx.Free()
	return nil
}

// captureSource buffers raw PCM from the device callback and hands out
// opus-encoded 20ms frames.
type captureSource struct {
	device *malgo.Device
	enc    *opus.Encoder

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	pcm    []int16
	packet []byte
}

func (s *captureSource) push(input []byte) {
	s.mu.Lock()
	if !s.closed {
		s.buf = append(s.buf, input...)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

// Next blocks until a full frame of PCM is buffered and returns it
// opus-encoded. After Close it returns io.EOF.
func (s *captureSource) Next() ([]byte, time.Duration, error) {
	s.mu.Lock()
	for len(s.buf) < frameBytes && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		s.mu.Unlock()
		return nil, 0, io.EOF
	}
	raw := make([]byte, frameBytes)
	copy(raw, s.buf[:frameBytes])
	s.buf = s.buf[frameBytes:]
	s.mu.Unlock()

	for i := 0; i < frameSamples; i++ {
		s.pcm[i] = int16(raw[2*i]) | int16(raw[2*i+1])<<8
	}
	n, err := s.enc.Encode(s.pcm, s.packet)
	if err != nil {
		return nil, 0, fmt.Errorf("opus encode: %w", err)
	}
	frame := make([]byte, n)
	copy(frame, s.packet[:n])
	return frame, frameDuration, nil
}

// Close stops and releases the capture device. Idempotent.
func (s *captureSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	return nil
}
