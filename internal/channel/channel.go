// Package channel implements the message protocol between the host shell
// and a sandboxed activity frame. The channel is asynchronous, unordered
// and best-effort: every message is independently actionable and messages
// that cannot be understood are dropped, never answered.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind is the fixed message vocabulary.
type Kind string

const (
	// frame -> shell
	KindEnableSubmit      Kind = "enableSubmit"
	KindDisableSubmit     Kind = "disableSubmit"
	KindScoreData         Kind = "scoreData"
	KindConfirmSubmission Kind = "confirmSubmission"

	// shell -> frame
	KindSubmitClicked Kind = "submitClicked"
	KindPostSuccess   Kind = "postSuccess"
)

var known = map[Kind]bool{
	KindEnableSubmit:      true,
	KindDisableSubmit:     true,
	KindScoreData:         true,
	KindConfirmSubmission: true,
	KindSubmitClicked:     true,
	KindPostSuccess:       true,
}

// ErrUnknownMessage marks a payload outside the vocabulary. Receivers drop
// such messages without state change to keep the contract forward
// compatible with newer embedded content.
var ErrUnknownMessage = fmt.Errorf("channel: unknown message")

// Message is one decoded channel message. Payload is non-nil only for
// scoreData. Origin is the sender origin as reported by the transport.
type Message struct {
	Kind    Kind
	Payload json.RawMessage
	Origin  string
}

// Decode parses the wire form: either a bare JSON string token
// ("enableSubmit") or a {"type":...,"payload":...} object.
func Decode(b []byte) (Message, error) {
	var token string
	if err := json.Unmarshal(b, &token); err == nil {
		k := Kind(token)
		if !known[k] {
			return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, token)
		}
		return Message{Kind: k}, nil
	}

	var tagged struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &tagged); err != nil {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownMessage, b)
	}

	k := Kind(tagged.Type)
	if !known[k] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, tagged.Type)
	}

	return Message{Kind: k, Payload: tagged.Payload}, nil
}

// Encode renders the wire form. Messages without payload encode as a bare
// string token, matching what frames expect.
func Encode(m Message) ([]byte, error) {
	if m.Payload == nil {
		return json.Marshal(string(m.Kind))
	}

	return json.Marshal(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{
		Type:    string(m.Kind),
		Payload: m.Payload,
	})
}

// Frame is the shell's handle for sending messages to embedded content.
// Sends are fire-and-forget: a failed send is logged by the transport, not
// surfaced to the attempt lifecycle.
type Frame interface {
	Send(ctx context.Context, m Message) error
}

// OriginPolicy is the allow-list applied when a sandboxed frame connects.
// An empty policy admits no frame at all.
type OriginPolicy struct {
	allowed map[string]bool
}

func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]bool, len(origins))}
	for _, o := range origins {
		p.allowed[o] = true
	}
	return p
}

// Allow reports whether a frame origin may connect. The origin must be
// explicitly listed: a client that omits its Origin header is refused
// like any other unlisted sender.
func (p *OriginPolicy) Allow(origin string) bool {
	return p.allowed[origin]
}
