package types

// VoicePhase represents the lifecycle phase of a voice session.
type VoicePhase int

const (
	// PhaseIdle is the resting state with no session resources held.
	PhaseIdle VoicePhase = iota
	// PhaseConnecting covers device acquisition and SDP negotiation.
	PhaseConnecting
	// PhaseConnected is a live session; Listening/Speaking qualify it.
	PhaseConnected
	// PhaseError is a failed attempt after cleanup; a fresh Connect retries.
	PhaseError
)

// String returns a human-readable phase name.
func (p VoicePhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// VoiceState is a snapshot of the voice session for UI binding.
//
// Listening and Speaking are mutually exclusive last-write-wins flags
// derived from inbound control events; only the most recent
// classification is retained.
type VoiceState struct {
	Phase     VoicePhase
	Listening bool
	Speaking  bool
	// Reason is the human-readable failure description when Phase is
	// PhaseError.
	Reason string
}
