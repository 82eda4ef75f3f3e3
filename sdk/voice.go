package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core"
	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

// voiceChannelLabel is the data-channel label the voice backend expects.
const voiceChannelLabel = "oai-events"

// VoiceController owns one voice session: the peer connection, the local
// microphone source, the remote audio sink and the control-event data
// channel. The microphone and the peer connection are exclusively owned;
// Connect while a session is live first disconnects the old one.
//
// Every failure is converted to the error state with a human-readable
// reason and triggers the same cleanup path as Disconnect; no path leaves
// a dangling device handle.
type VoiceController struct {
	client    *Client
	negotiate answerer

	mu      sync.Mutex
	state   types.VoiceState
	onState func(types.VoiceState)

	// gen identifies the live connect attempt. Disconnect and every new
	// Connect bump it, so a superseded attempt stops installing resources
	// and releases whatever it is still holding.
	gen uint64

	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	source   AudioSource
	pumpStop context.CancelFunc
}

// errAttemptSuperseded marks a connect attempt invalidated by Disconnect
// or a newer Connect before it finished.
var errAttemptSuperseded = errors.New("voice connect attempt superseded")

func newVoiceController(c *Client, n answerer) *VoiceController {
	return &VoiceController{
		client:    c,
		negotiate: n,
		state:     types.VoiceState{Phase: types.PhaseIdle},
	}
}

// OnStateChange registers the state observer. It is invoked once per
// transition with the new snapshot.
func (v *VoiceController) OnStateChange(fn func(types.VoiceState)) {
	v.mu.Lock()
	v.onState = fn
	v.mu.Unlock()
}

// State returns the current state snapshot.
func (v *VoiceController) State() types.VoiceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Connect establishes a voice session: microphone, peer connection, local
// track, data channel, SDP exchange. On success the controller reaches
// connected(listening) once the data channel opens; on failure it cleans
// up unconditionally and lands in the error state, retryable by a fresh
// Connect.
func (v *VoiceController) Connect(ctx context.Context) {
	if ph := v.State().Phase; ph == types.PhaseConnected || ph == types.PhaseConnecting {
		v.Disconnect()
	}
	v.client.metrics.voiceConnects.Inc()

	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.state = types.VoiceState{Phase: types.PhaseConnecting}
	fn, st := v.onState, v.state
	v.mu.Unlock()
	if fn != nil {
		fn(st)
	}

	if err := v.connect(ctx, gen); err != nil {
		if errors.Is(err, errAttemptSuperseded) {
			// Disconnect already tore this attempt down
			return
		}
		v.mu.Lock()
		stale := gen != v.gen
		v.mu.Unlock()
		if stale {
			// Disconnect or a newer Connect took over mid-attempt and
			// already released everything this attempt had installed.
			return
		}
		v.client.metrics.voiceFailures.Inc()
		v.client.logger.Error("voice connect failed", "error", err)
		v.release()

		v.mu.Lock()
		emit := v.state.Phase == types.PhaseConnecting
		if emit {
			v.state = types.VoiceState{Phase: types.PhaseError, Reason: failureReason(err)}
		}
		fn, st := v.onState, v.state
		v.mu.Unlock()
		if emit && fn != nil {
			fn(st)
		}
	}
}

func (v *VoiceController) connect(ctx context.Context, gen uint64) error {
	if v.client.tracer != nil {
		var span trace.Span
		ctx, span = v.client.tracer.Start(ctx, "assistant.voice.connect",
			trace.WithAttributes(attribute.String("assistant.channel", voiceChannelLabel)))
		defer span.End()
	}

	capture := v.client.capture
	if capture == nil {
		return core.NewPermissionError("no audio capture device configured")
	}
	source, err := capture.Open(ctx)
	if err != nil {
		return err
	}
	if !v.adopt(gen, func() { v.source = source }) {
		source.Close()
		return errAttemptSuperseded
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return core.NewResourceError("create peer connection").Wrap(err)
	}
	if !v.adopt(gen, func() { v.pc = pc }) {
		pc.Close()
		return errAttemptSuperseded
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	}, "audio", "assistant-microphone")
	if err != nil {
		return core.NewResourceError("create local track").Wrap(err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return core.NewResourceError("attach local track").Wrap(err)
	}
	pc.OnTrack(v.handleRemoteTrack)

	dc, err := pc.CreateDataChannel(voiceChannelLabel, nil)
	if err != nil {
		return core.NewProtocolError("create data channel").Wrap(err)
	}
	dc.OnOpen(func() { v.markConnected(gen) })
	dc.OnMessage(v.handleControlMessage)
	dc.OnError(func(err error) {
		v.client.logger.Warn("voice data channel error", "error", err)
	})
	if !v.adopt(gen, func() { v.dc = dc }) {
		dc.Close()
		return errAttemptSuperseded
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return core.NewProtocolError("create offer").Wrap(err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return core.NewProtocolError("set local description").Wrap(err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := v.negotiate.Answer(ctx, pc.LocalDescription().SDP, v.client.sessionCtx)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return core.NewProtocolError("apply remote description").Wrap(err)
	}

	pumpCtx, stop := context.WithCancel(context.Background())
	if !v.adopt(gen, func() { v.pumpStop = stop }) {
		stop()
		return errAttemptSuperseded
	}
	go v.pumpMicrophone(pumpCtx, source, track)
	return nil
}

// adopt binds one session resource to the controller under the lock,
// unless the attempt was superseded. A superseded attempt must release
// the resource itself: Disconnect already ran and cannot see it.
func (v *VoiceController) adopt(gen uint64, bind func()) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	bind()
	return true
}

// markConnected is the data-channel open handler. The local track and the
// data channel are both attached by the time it fires, which is the
// condition for leaving connecting.
func (v *VoiceController) markConnected(gen uint64) {
	v.mu.Lock()
	if gen != v.gen || v.state.Phase != types.PhaseConnecting {
		v.mu.Unlock()
		return
	}
	v.state = types.VoiceState{Phase: types.PhaseConnected, Listening: true}
	fn, st := v.onState, v.state
	v.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Disconnect releases the microphone, closes the data channel and the
// peer connection, and resets to idle. Idempotent; safe from any state,
// including mid-connecting and already-idle.
func (v *VoiceController) Disconnect() {
	v.mu.Lock()
	// invalidate any attempt that is still mid-connect
	v.gen++
	v.mu.Unlock()
	v.release()

	v.mu.Lock()
	changed := v.state.Phase != types.PhaseIdle
	v.state = types.VoiceState{Phase: types.PhaseIdle}
	fn, st := v.onState, v.state
	v.mu.Unlock()
	if changed && fn != nil {
		fn(st)
	}
}

// release tears down session resources. The remote audio sink is detached
// implicitly: its feeding goroutine exits when the peer connection closes.
func (v *VoiceController) release() {
	v.mu.Lock()
	stop, source, dc, pc := v.pumpStop, v.source, v.dc, v.pc
	v.pumpStop, v.source, v.dc, v.pc = nil, nil, nil, nil
	v.mu.Unlock()

	if stop != nil {
		stop()
	}
	if source != nil {
		if err := source.Close(); err != nil {
			v.client.logger.Warn("microphone release failed", "error", err)
		}
	}
	if dc != nil {
		_ = dc.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			v.client.logger.Warn("peer connection close failed", "error", err)
		}
	}
}

// SendControl serializes event, sends it on the data channel and follows
// it with the response trigger the backend expects for user-initiated
// input. If the channel is not open the message is dropped and the
// rejection is observable through the returned error and the log.
func (v *VoiceController) SendControl(event any) error {
	v.mu.Lock()
	dc := v.dc
	v.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		err := core.NewResourceError("voice data channel is not open")
		v.client.logger.Warn("control message dropped", "error", err)
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return core.NewProtocolError("encode control message").Wrap(err)
	}
	if err := dc.SendText(string(payload)); err != nil {
		return core.NewResourceError("send control message").Wrap(err)
	}
	trigger, err := json.Marshal(types.ResponseTrigger{})
	if err != nil {
		return core.NewProtocolError("encode response trigger").Wrap(err)
	}
	if err := dc.SendText(string(trigger)); err != nil {
		return core.NewResourceError("send response trigger").Wrap(err)
	}
	return nil
}

// SendText injects typed user text into the running voice session.
func (v *VoiceController) SendText(text string) error {
	return v.SendControl(types.UserTextItem{Text: text})
}

func (v *VoiceController) handleControlMessage(msg webrtc.DataChannelMessage) {
	ev, err := types.ParseControlEvent(msg.Data)
	if err != nil {
		v.client.logger.Debug("undecodable control event", "error", err)
		return
	}
	v.applyControlEvent(ev)
}

// applyControlEvent derives the speaking/listening classification from an
// inbound event. The flags are last-write-wins, not queued: only the most
// recent classification is retained.
func (v *VoiceController) applyControlEvent(ev types.ControlEvent) {
	v.mu.Lock()
	if v.state.Phase != types.PhaseConnected {
		v.mu.Unlock()
		return
	}
	switch ev.(type) {
	case types.AssistantAudioStarted:
		v.state.Speaking, v.state.Listening = true, false
	case types.AssistantAudioStopped, types.ResponseDone:
		v.state.Speaking, v.state.Listening = false, true
	case types.UserSpeechStarted:
		v.state.Listening, v.state.Speaking = true, false
	default:
		v.mu.Unlock()
		return
	}
	fn, st := v.onState, v.state
	v.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (v *VoiceController) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	sink := v.client.sink
	go func() {
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					v.client.logger.Debug("remote track closed", "error", err)
				}
				return
			}
			if sink == nil || len(pkt.Payload) == 0 {
				continue
			}
			if err := sink.Write(pkt.Payload); err != nil {
				v.client.logger.Debug("audio sink write failed", "error", err)
			}
		}
	}()
}

// pumpMicrophone forwards encoded microphone frames into the local track
// until the session ends or the source closes.
func (v *VoiceController) pumpMicrophone(ctx context.Context, source AudioSource, track *webrtc.TrackLocalStaticSample) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, duration, err := source.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				v.client.logger.Warn("microphone read failed", "error", err)
			}
			return
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: duration}); err != nil {
			v.client.logger.Debug("local track write failed", "error", err)
			return
		}
	}
}

// failureReason extracts the human-readable reason for the error state.
func failureReason(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
