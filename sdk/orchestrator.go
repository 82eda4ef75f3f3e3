package assistant

import (
	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

// Busy identifies which channel currently owns the "assistant is
// responding" slot. At most one channel drives live output at a time.
type Busy int

const (
	BusyNone Busy = iota
	BusyText
	BusyVoice
)

// String returns a human-readable busy slot name.
func (b Busy) String() string {
	switch b {
	case BusyText:
		return "text"
	case BusyVoice:
		return "voice"
	default:
		return "none"
	}
}

// Send submits a text turn through the orchestrated surface. The stream
// runs under the client's root context so Teardown can discard it.
func (c *Client) Send(content string, attachments ...types.Attachment) *Reply {
	return c.Chat.Send(c.rootCtx, content, attachments...)
}

// StartVoice establishes a voice session. An in-flight text stream keeps
// running to completion in the background; once voice reaches connected
// it owns the busy slot.
func (c *Client) StartVoice() {
	c.Voice.Connect(c.rootCtx)
}

// StopVoice ends the voice session. Safe to call when none is active.
func (c *Client) StopVoice() {
	c.Voice.Disconnect()
}

// Clear drops the transcript and its backing store.
func (c *Client) Clear() {
	c.Chat.Clear()
}

// Busy reports the channel presented as responding: a connected voice
// session wins over a streaming text turn.
func (c *Client) Busy() Busy {
	if c.Voice.State().Phase == types.PhaseConnected {
		return BusyVoice
	}
	if c.Chat.IsLoading() {
		return BusyText
	}
	return BusyNone
}

// Teardown is the single cancellation point: it disconnects the voice
// session and cancels the abortable unit wrapping any in-flight text
// stream. Partial text already streamed stays in the transcript.
// Idempotent.
func (c *Client) Teardown() {
	c.cancel()
	c.Voice.Disconnect()
}
