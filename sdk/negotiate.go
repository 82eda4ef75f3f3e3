package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Negotiator exchanges an ephemeral credential and an SDP offer/answer
// with the voice backend. It holds no state between calls; the credential
// lives only long enough to complete one exchange and is never persisted.
type Negotiator struct {
	credentialURL string
	realtimeURL   string
	httpClient    *http.Client
	logger        *slog.Logger
}

// answerer is what the voice controller needs from the negotiation side.
type answerer interface {
	Answer(ctx context.Context, offerSDP string, sessionCtx SessionContext) (string, error)
}

// Answer obtains a short-lived credential, submits the local SDP offer
// under it, and returns the answer SDP verbatim.
func (n *Negotiator) Answer(ctx context.Context, offerSDP string, sessionCtx SessionContext) (string, error) {
	token, err := n.obtainCredential(ctx, sessionCtx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.realtimeURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", NewTransportError("build negotiation request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "POST", URL: n.realtimeURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransportError{Op: "read answer", URL: n.realtimeURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("sdp negotiation rejected", "status", resp.StatusCode)
		return "", NewStatusError("sdp negotiation", resp.StatusCode, string(body))
	}
	return string(body), nil
}

// obtainCredential requests the single-use bearer token, forwarding the
// opaque session context for personalization. The context is never
// required for correctness.
func (n *Negotiator) obtainCredential(ctx context.Context, sessionCtx SessionContext) (string, error) {
	payload, err := json.Marshal(struct {
		Context SessionContext `json:"context,omitempty"`
	}{Context: sessionCtx})
	if err != nil {
		return "", NewProtocolError("encode credential request").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.credentialURL, bytes.NewReader(payload))
	if err != nil {
		return "", NewTransportError("build credential request").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Op: "POST", URL: n.credentialURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransportError{Op: "read credential", URL: n.credentialURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("credential request rejected", "status", resp.StatusCode)
		return "", NewStatusError("credential request", resp.StatusCode, string(body))
	}

	var cred struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &cred); err != nil {
		return "", NewProtocolError("decode credential response").Wrap(err)
	}
	if cred.ClientSecret.Value == "" {
		return "", NewProtocolError("voice backend returned no usable client secret")
	}
	return cred.ClientSecret.Value, nil
}
