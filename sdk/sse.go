package assistant

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
)

const streamDoneSentinel = "[DONE]"

// frameReader turns the streamed chat response body into StreamFrames.
//
// It is a lazy, finite, non-restartable sequence: Next returns frames in
// wire order and io.EOF after the terminator. The underlying bufio.Reader
// makes chunk boundaries invisible to the scan loop, so the emitted
// frames do not depend on how the transport split the bytes.
type frameReader struct {
	reader  *bufio.Reader
	body    io.Closer
	dropped prometheus.Counter
	done    bool
}

func newFrameReader(body io.ReadCloser, dropped prometheus.Counter) *frameReader {
	return &frameReader{
		reader:  bufio.NewReader(body),
		body:    body,
		dropped: dropped,
	}
}

// chatChunk is the JSON payload of one data record.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *chatChunk) text() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// Next returns the next frame. After a terminator (explicit sentinel or
// natural end of the body) it returns io.EOF forever.
func (r *frameReader) Next() (types.StreamFrame, error) {
	if r.done {
		return types.StreamFrame{}, io.EOF
	}

	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return types.StreamFrame{}, err
		}
		atEOF := err == io.EOF

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			// comment or keep-alive, ignored
		case !strings.HasPrefix(line, "data:"):
			// not a data record, ignored
		default:
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == streamDoneSentinel {
				r.done = true
				return types.TerminatorFrame(), nil
			}
			var chunk chatChunk
			if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr != nil {
				// A record split across a pathological chunk boundary
				// still arrives whole here; anything unparseable at this
				// point is dropped, not repaired.
				r.dropped.Inc()
				return types.MalformedFrame(), nil
			}
			return types.DeltaFrame(chunk.text()), nil
		}

		if atEOF {
			// stream ended without an explicit terminator record
			r.done = true
			return types.TerminatorFrame(), nil
		}
	}
}

// Close closes the underlying body.
func (r *frameReader) Close() error {
	if r.body != nil {
		return r.body.Close()
	}
	return nil
}
