package livetiming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	hubName    = "Streaming"
	methodFeed = "feed"

	// TimestampLayout is the layout upstream uses for capture timestamps.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// ErrMalformedUpdate is returned when a feed invocation does not carry [feed, payload, timestamp].
var ErrMalformedUpdate = errors.New("malformed feed update")

// Update is a single feed delta as carried on the wire.
// Payload is kept raw so it can be forwarded downstream byte for byte.
type Update struct {
	Feed      string
	Payload   json.RawMessage
	Timestamp string
}

// Message is one decoded frame from the hub. A frame can carry a full state
// under "R", a batch of feed invocations under "M", both, or neither (keepalive).
type Message struct {
	Snapshot json.RawMessage
	Updates  []Update
	// Rejected has one error per feed invocation that could not be decoded.
	// The remaining invocations are still returned in Updates.
	Rejected []error
}

// Empty reports whether the frame carried nothing to apply.
func (m *Message) Empty() bool {
	return len(m.Snapshot) == 0 && len(m.Updates) == 0
}

type envelope struct {
	R json.RawMessage `json:"R,omitempty"`
	M []invocation    `json:"M,omitempty"`
}

type invocation struct {
	H string            `json:"H"`
	M string            `json:"M"`
	A []json.RawMessage `json:"A"`
}

type outboundInvocation struct {
	H string `json:"H"`
	M string `json:"M"`
	A []any  `json:"A"`
}

type outboundEnvelope struct {
	M []outboundInvocation `json:"M"`
}

type snapshotFrame struct {
	R any `json:"R"`
}

// ParseMessage decodes a frame in the classic hub shape. Only an undecodable
// frame is an error; a bad invocation is reported in Rejected.
func ParseMessage(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	msg := &Message{}
	if len(env.R) > 0 && !isNull(env.R) {
		msg.Snapshot = env.R
	}

	for _, inv := range env.M {
		if !strings.EqualFold(inv.M, methodFeed) {
			continue
		}
		u, err := UpdateFromArgs(inv.A)
		if err != nil {
			msg.Rejected = append(msg.Rejected, err)
			continue
		}
		msg.Updates = append(msg.Updates, u)
	}

	return msg, nil
}

// UpdateFromArgs builds an Update from hub invocation arguments.
// The timestamp argument is optional.
func UpdateFromArgs(args []json.RawMessage) (Update, error) {
	if len(args) < 2 {
		return Update{}, fmt.Errorf("%w: %d arguments", ErrMalformedUpdate, len(args))
	}

	var u Update
	if err := json.Unmarshal(args[0], &u.Feed); err != nil || u.Feed == "" {
		return Update{}, fmt.Errorf("%w: feed name", ErrMalformedUpdate)
	}
	u.Payload = args[1]
	if len(args) > 2 {
		_ = json.Unmarshal(args[2], &u.Timestamp)
	}
	return u, nil
}

// NewUpdate builds an Update for a relay-owned feed.
func NewUpdate(feed string, payload any, ts time.Time) (Update, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Update{}, fmt.Errorf("encoding %s payload: %w", feed, err)
	}
	return Update{
		Feed:      feed,
		Payload:   raw,
		Timestamp: ts.UTC().Format(TimestampLayout),
	}, nil
}

// EncodeUpdates renders updates in the classic streaming envelope.
func EncodeUpdates(updates []Update) ([]byte, error) {
	env := outboundEnvelope{M: make([]outboundInvocation, 0, len(updates))}
	for _, u := range updates {
		env.M = append(env.M, outboundInvocation{
			H: hubName,
			M: methodFeed,
			A: []any{u.Feed, u.Payload, u.Timestamp},
		})
	}
	return json.Marshal(env)
}

// EncodeSnapshot renders a full state frame.
func EncodeSnapshot(root any) ([]byte, error) {
	return json.Marshal(snapshotFrame{R: root})
}

// Decode parses JSON keeping numbers as json.Number so merged values
// serialize back exactly as received.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeObject is Decode restricted to JSON objects.
func DecodeObject(data []byte) (map[string]any, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp parses a capture timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, lastErr)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
