package types

import (
	"encoding/json"
)

// ControlEvent is an inbound JSON record from the voice data channel.
// The set of variants is closed; anything unrecognized decodes to
// UnknownEvent so newer backend event types never break the session.
type ControlEvent interface {
	// EventType returns the wire discriminator.
	EventType() string
}

// AssistantAudioStarted signals that assistant audio playback has begun.
type AssistantAudioStarted struct{}

func (AssistantAudioStarted) EventType() string { return "output_audio_buffer.started" }

// AssistantAudioStopped signals that assistant audio playback has ended.
type AssistantAudioStopped struct{}

func (AssistantAudioStopped) EventType() string { return "output_audio_buffer.stopped" }

// ResponseDone signals that the assistant finished producing a response.
type ResponseDone struct{}

func (ResponseDone) EventType() string { return "response.done" }

// UserSpeechStarted signals that the backend detected local user speech.
type UserSpeechStarted struct{}

func (UserSpeechStarted) EventType() string { return "input_audio_buffer.speech_started" }

// UnknownEvent is any control record this client does not act on.
type UnknownEvent struct {
	Type string
}

func (e UnknownEvent) EventType() string { return e.Type }

// ParseControlEvent decodes a raw data-channel record into a ControlEvent.
// Records without a usable type discriminator are a protocol error.
func ParseControlEvent(data []byte) (ControlEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case AssistantAudioStarted{}.EventType():
		return AssistantAudioStarted{}, nil
	case AssistantAudioStopped{}.EventType():
		return AssistantAudioStopped{}, nil
	case ResponseDone{}.EventType():
		return ResponseDone{}, nil
	case UserSpeechStarted{}.EventType():
		return UserSpeechStarted{}, nil
	default:
		return UnknownEvent{Type: envelope.Type}, nil
	}
}

// UserTextItem is the outbound record that injects typed user text into a
// running voice session. The backend expects it to be followed by a
// ResponseTrigger.
type UserTextItem struct {
	Text string
}

// MarshalJSON renders the conversation item creation record.
func (e UserTextItem) MarshalJSON() ([]byte, error) {
	type contentPart struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type item struct {
		Type    string        `json:"type"`
		Role    string        `json:"role"`
		Content []contentPart `json:"content"`
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Item item   `json:"item"`
	}{
		Type: "conversation.item.create",
		Item: item{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: e.Text}},
		},
	})
}

// ResponseTrigger is the outbound record that asks the backend to produce
// a response for the most recently created item.
type ResponseTrigger struct{}

// MarshalJSON renders the response creation record.
func (ResponseTrigger) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{Type: "response.create"})
}
