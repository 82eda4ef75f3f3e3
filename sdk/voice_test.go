package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core"
	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

type fakeSource struct {
	mu         sync.Mutex
	closed     chan struct{}
	closeCount int
}

func newFakeSource() *fakeSource {
	return &fakeSource{closed: make(chan struct{})}
}

func (f *fakeSource) Next() ([]byte, time.Duration, error) {
	<-f.closed
	return nil, 0, io.EOF
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	if f.closeCount == 1 {
		close(f.closed)
	}
	return nil
}

func (f *fakeSource) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

type fakeCapture struct {
	err error
	src *fakeSource
}

func (f *fakeCapture) Open(context.Context) (AudioSource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.src, nil
}

// gatedCapture blocks Open until released, so tests can land calls in the
// middle of a connect attempt.
type gatedCapture struct {
	src     *fakeSource
	entered chan struct{}
	release chan struct{}
}

func newGatedCapture(src *fakeSource) *gatedCapture {
	return &gatedCapture{
		src:     src,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedCapture) Open(context.Context) (AudioSource, error) {
	close(g.entered)
	<-g.release
	return g.src, nil
}

type answererFunc func(ctx context.Context, offerSDP string, sessionCtx SessionContext) (string, error)

func (f answererFunc) Answer(ctx context.Context, offerSDP string, sessionCtx SessionContext) (string, error) {
	return f(ctx, offerSDP, sessionCtx)
}

func collectVoiceStates(v *VoiceController) func() []types.VoiceState {
	var mu sync.Mutex
	var states []types.VoiceState
	v.OnStateChange(func(st types.VoiceState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	return func() []types.VoiceState {
		mu.Lock()
		defer mu.Unlock()
		out := make([]types.VoiceState, len(states))
		copy(out, states)
		return out
	}
}

func TestVoiceController_MicrophoneDenialEndsInError(t *testing.T) {
	c := New(WithCaptureDevice(&fakeCapture{
		err: core.NewPermissionError("microphone access denied"),
	}))
	defer c.Teardown()

	states := collectVoiceStates(c.Voice)
	c.Voice.Connect(context.Background())

	got := states()
	if len(got) != 2 || got[0].Phase != types.PhaseConnecting || got[1].Phase != types.PhaseError {
		t.Fatalf("state sequence = %v, want connecting then error", got)
	}
	if got[1].Reason != "microphone access denied" {
		t.Fatalf("error reason = %q", got[1].Reason)
	}
	if c.Voice.pc != nil {
		t.Fatal("peer connection left open after failed attempt")
	}

	// disconnect afterwards is a safe no-op that lands on idle
	c.Voice.Disconnect()
	if ph := c.Voice.State().Phase; ph != types.PhaseIdle {
		t.Fatalf("phase after Disconnect = %v, want idle", ph)
	}
	c.Voice.Disconnect()
	if ph := c.Voice.State().Phase; ph != types.PhaseIdle {
		t.Fatalf("phase after second Disconnect = %v, want idle", ph)
	}
}

func TestVoiceController_NegotiationFailureReleasesMicrophone(t *testing.T) {
	src := newFakeSource()
	c := New(WithCaptureDevice(&fakeCapture{src: src}))
	defer c.Teardown()

	c.Voice.negotiate = answererFunc(func(context.Context, string, SessionContext) (string, error) {
		return "", core.NewStatusError("sdp negotiation", 502, "upstream exploded")
	})

	c.Voice.Connect(context.Background())

	if ph := c.Voice.State().Phase; ph != types.PhaseError {
		t.Fatalf("phase = %v, want error", ph)
	}
	if got := src.closes(); got != 1 {
		t.Fatalf("microphone closed %d times, want exactly 1", got)
	}
	if c.Voice.pc != nil || c.Voice.dc != nil {
		t.Fatal("session resources left attached after failed attempt")
	}
}

func TestVoiceController_DisconnectDuringDeviceAcquisition(t *testing.T) {
	src := newFakeSource()
	gate := newGatedCapture(src)
	c := New(WithCaptureDevice(gate))
	defer c.Teardown()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Voice.Connect(context.Background())
	}()
	<-gate.entered

	// the user hangs up while the microphone is still being acquired;
	// the attempt must not resurrect any resource afterwards
	c.Voice.Disconnect()
	close(gate.release)
	<-done

	if ph := c.Voice.State().Phase; ph != types.PhaseIdle {
		t.Fatalf("phase = %v, want idle after mid-connect Disconnect", ph)
	}
	c.Voice.mu.Lock()
	pc, dc, source, stop := c.Voice.pc, c.Voice.dc, c.Voice.source, c.Voice.pumpStop
	c.Voice.mu.Unlock()
	if pc != nil || dc != nil || source != nil || stop != nil {
		t.Fatalf("session resources resurrected: pc=%v dc=%v source=%v pump=%v", pc, dc, source, stop)
	}
	if got := src.closes(); got != 1 {
		t.Fatalf("microphone closed %d times, want exactly 1", got)
	}
}

func TestVoiceController_DisconnectDuringNegotiation(t *testing.T) {
	src := newFakeSource()
	c := New(WithCaptureDevice(&fakeCapture{src: src}))
	defer c.Teardown()

	entered := make(chan struct{})
	release := make(chan struct{})
	c.Voice.negotiate = answererFunc(func(context.Context, string, SessionContext) (string, error) {
		close(entered)
		<-release
		return "", core.NewStatusError("sdp negotiation", 502, "late answer")
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Voice.Connect(context.Background())
	}()
	<-entered

	// hang up while the offer is in flight: the microphone and the peer
	// connection are already attached and must be released exactly once
	c.Voice.Disconnect()
	close(release)
	<-done

	if ph := c.Voice.State().Phase; ph != types.PhaseIdle {
		t.Fatalf("phase = %v, want idle (no late error state)", ph)
	}
	c.Voice.mu.Lock()
	pc, dc, source := c.Voice.pc, c.Voice.dc, c.Voice.source
	c.Voice.mu.Unlock()
	if pc != nil || dc != nil || source != nil {
		t.Fatalf("session resources left attached: pc=%v dc=%v source=%v", pc, dc, source)
	}
	if got := src.closes(); got != 1 {
		t.Fatalf("microphone closed %d times, want exactly 1", got)
	}
}

func TestVoiceController_DisconnectIsIdempotent(t *testing.T) {
	src := newFakeSource()
	c := New()
	defer c.Teardown()

	c.Voice.mu.Lock()
	c.Voice.source = src
	c.Voice.state = types.VoiceState{Phase: types.PhaseConnected, Listening: true}
	c.Voice.mu.Unlock()

	c.Voice.Disconnect()
	c.Voice.Disconnect()

	if ph := c.Voice.State().Phase; ph != types.PhaseIdle {
		t.Fatalf("phase = %v, want idle", ph)
	}
	if got := src.closes(); got != 1 {
		t.Fatalf("microphone closed %d times, want exactly 1 (no double release)", got)
	}
}

func TestVoiceController_LastWriteWinsClassification(t *testing.T) {
	c := New()
	defer c.Teardown()
	v := c.Voice

	v.mu.Lock()
	v.state = types.VoiceState{Phase: types.PhaseConnected, Listening: true}
	v.mu.Unlock()

	// user speech flagged, then the assistant starts talking anyway:
	// only the most recent classification is retained
	v.applyControlEvent(types.UserSpeechStarted{})
	v.applyControlEvent(types.AssistantAudioStarted{})

	st := v.State()
	if !st.Speaking || st.Listening {
		t.Fatalf("state = %+v, want speaking=true listening=false", st)
	}

	v.applyControlEvent(types.AssistantAudioStopped{})
	st = v.State()
	if st.Speaking || !st.Listening {
		t.Fatalf("state = %+v, want listening after audio stopped", st)
	}

	v.applyControlEvent(types.ResponseDone{})
	st = v.State()
	if st.Speaking || !st.Listening {
		t.Fatalf("state = %+v, want listening after response done", st)
	}
}

func TestVoiceController_UnknownAndUndecodableEventsIgnored(t *testing.T) {
	c := New()
	defer c.Teardown()
	v := c.Voice

	v.mu.Lock()
	v.state = types.VoiceState{Phase: types.PhaseConnected, Listening: true}
	v.mu.Unlock()

	v.handleControlMessage(webrtc.DataChannelMessage{Data: []byte(`{"type":"rate_limits.updated"}`)})
	v.handleControlMessage(webrtc.DataChannelMessage{Data: []byte(`not json at all`)})

	st := v.State()
	if st.Speaking || !st.Listening {
		t.Fatalf("state = %+v, want unchanged listening", st)
	}
}

func TestVoiceController_SendControlOnClosedChannel(t *testing.T) {
	c := New()
	defer c.Teardown()

	before := c.Voice.State()
	err := c.Voice.SendText("hello while disconnected")

	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrResource {
		t.Fatalf("SendText() error = %v, want resource error", err)
	}
	if after := c.Voice.State(); after != before {
		t.Fatalf("state changed by rejected send: %+v -> %+v", before, after)
	}
}

func TestVoiceController_ConnectReachesListening(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC loopback in short mode")
	}

	src := newFakeSource()
	c := New(WithCaptureDevice(&fakeCapture{src: src}))
	defer c.Teardown()

	// the "backend" is a second in-process peer connection
	c.Voice.negotiate = answererFunc(func(ctx context.Context, offerSDP string, _ SessionContext) (string, error) {
		remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return "", err
		}
		t.Cleanup(func() { remote.Close() })
		if err := remote.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  offerSDP,
		}); err != nil {
			return "", err
		}
		answer, err := remote.CreateAnswer(nil)
		if err != nil {
			return "", err
		}
		gathered := webrtc.GatheringCompletePromise(remote)
		if err := remote.SetLocalDescription(answer); err != nil {
			return "", err
		}
		<-gathered
		return remote.LocalDescription().SDP, nil
	})

	c.Voice.Connect(context.Background())
	waitFor(t, "voice connected", func() bool {
		return c.Voice.State().Phase == types.PhaseConnected
	})

	st := c.Voice.State()
	if !st.Listening || st.Speaking {
		t.Fatalf("state = %+v, want connected(listening)", st)
	}

	c.Voice.Disconnect()
	if ph := c.Voice.State().Phase; ph != types.PhaseIdle {
		t.Fatalf("phase after Disconnect = %v, want idle", ph)
	}
	if got := src.closes(); got != 1 {
		t.Fatalf("microphone closed %d times, want exactly 1", got)
	}
}
