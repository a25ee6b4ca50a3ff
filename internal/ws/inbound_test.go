package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/auth"
	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
)

type capturePublisher struct {
	feed    string
	payload any
	err     error
	calls   int
}

func (c *capturePublisher) Publish(feed string, payload any) error {
	c.calls++
	c.feed = feed
	c.payload = payload
	return c.err
}

type failingCooldowns struct{}

func (failingCooldowns) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

const testSecret = "test-secret"

func newTestInbound(pub *capturePublisher) *Inbound {
	return NewInbound(
		auth.NewJWTVerifier(testSecret),
		auth.NewMemoryCooldownStore(),
		pub,
		InboundConfig{MaxMessageBytes: 1024, MaxContentLength: 20, DefaultCooldown: time.Minute},
		nil,
		zap.NewNop(),
	)
}

func decodeReply(t *testing.T, data []byte) Reply {
	t.Helper()
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decoding reply %s: %v", data, err)
	}
	return r
}

func authenticate(t *testing.T, in *Inbound, sess *Session, id auth.Identity) {
	t.Helper()
	token, err := auth.SignToken(id, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	r := decodeReply(t, in.Handle(context.Background(), sess, []byte(`{"type":"auth:token","payload":{"token":"`+token+`"}}`)))
	if !r.Success {
		t.Fatalf("authentication failed: %+v", r)
	}
}

func TestInbound_AuthToken(t *testing.T) {
	in := newTestInbound(&capturePublisher{})
	sess := &Session{}

	authenticate(t, in, sess, auth.Identity{ID: "7", Username: "lando", Role: "user"})

	if id := sess.Identity(); id == nil || id.ID != "7" {
		t.Fatalf("expected identity attached, got %+v", id)
	}
}

func TestInbound_AuthTokenInvalid(t *testing.T) {
	in := newTestInbound(&capturePublisher{})
	sess := &Session{}

	r := decodeReply(t, in.Handle(context.Background(), sess, []byte(`{"type":"auth:token","payload":{"token":"bogus"}}`)))
	if r.Success || r.Error != ErrMsgInvalidToken || r.Type != TypeAuthToken {
		t.Errorf("unexpected reply: %+v", r)
	}
	if sess.Identity() != nil {
		t.Error("invalid token attached an identity")
	}
}

func TestInbound_ChatRequiresAuth(t *testing.T) {
	pub := &capturePublisher{}
	in := newTestInbound(pub)

	r := decodeReply(t, in.Handle(context.Background(), &Session{}, []byte(`{"type":"chat:post","payload":{"content":"hi"}}`)))
	if r.Error != ErrMsgNotAuthenticated {
		t.Errorf("expected not authenticated, got %+v", r)
	}
	if pub.calls != 0 {
		t.Error("unauthenticated chat was published")
	}
}

func TestInbound_ChatPublishesAndEnforcesCooldown(t *testing.T) {
	pub := &capturePublisher{}
	in := newTestInbound(pub)
	sess := &Session{}
	authenticate(t, in, sess, auth.Identity{ID: "7", Username: "lando", Role: "user"})

	post := []byte(`{"type":"chat:post","payload":{"content":"  <b>box box</b> ","language":"ES","color":"#ff8000"}}`)
	r := decodeReply(t, in.Handle(context.Background(), sess, post))
	if !r.Success {
		t.Fatalf("expected chat accepted, got %+v", r)
	}

	if pub.feed != livetiming.FeedChatMessages {
		t.Errorf("expected ChatMessages feed, got %s", pub.feed)
	}
	msgs, ok := pub.payload.(map[string]ChatMessage)
	if !ok || len(msgs) != 1 {
		t.Fatalf("unexpected payload %#v", pub.payload)
	}
	for _, m := range msgs {
		if m.Content != "&lt;b&gt;box box&lt;/b&gt;" {
			t.Errorf("unexpected sanitized content %q", m.Content)
		}
		if m.User != "lando" || m.Role != "user" || m.Language != "es" || m.Color != "#ff8000" {
			t.Errorf("unexpected message %+v", m)
		}
	}

	r = decodeReply(t, in.Handle(context.Background(), sess, post))
	if r.Error != ErrMsgCooldown {
		t.Errorf("expected cooldown error, got %+v", r)
	}
	if pub.calls != 1 {
		t.Errorf("expected 1 publish, got %d", pub.calls)
	}
}

func TestInbound_ChatRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "too long", payload: `{"content":"` + strings.Repeat("a", 21) + `"}`, want: ErrMsgOversized},
		{name: "empty", payload: `{"content":"   \u0007 "}`, want: ErrMsgEmpty},
		{name: "malformed", payload: `"just a string"`, want: ErrMsgMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &capturePublisher{}
			in := newTestInbound(pub)
			sess := &Session{}
			authenticate(t, in, sess, auth.Identity{ID: "1"})

			r := decodeReply(t, in.Handle(context.Background(), sess, []byte(`{"type":"chat:post","payload":`+tt.payload+`}`)))
			if r.Error != tt.want {
				t.Errorf("expected %q, got %+v", tt.want, r)
			}
			if pub.calls != 0 {
				t.Error("rejected chat was published")
			}
		})
	}
}

func TestInbound_OversizedFrame(t *testing.T) {
	in := newTestInbound(&capturePublisher{})
	frame := []byte(`{"type":"chat:post","payload":{"content":"` + strings.Repeat("x", 2048) + `"}}`)

	r := decodeReply(t, in.Handle(context.Background(), &Session{}, frame))
	if r.Error != ErrMsgOversized {
		t.Errorf("expected oversized error, got %+v", r)
	}
}

func TestInbound_UnknownAndMalformed(t *testing.T) {
	in := newTestInbound(&capturePublisher{})

	if r := decodeReply(t, in.Handle(context.Background(), &Session{}, []byte(`{"type":"nope"}`))); r.Error != ErrMsgUnknownType {
		t.Errorf("expected unknown type, got %+v", r)
	}
	if r := decodeReply(t, in.Handle(context.Background(), &Session{}, []byte(`not json`))); r.Error != ErrMsgMalformed {
		t.Errorf("expected malformed, got %+v", r)
	}
}

func TestInbound_CooldownStoreFailure(t *testing.T) {
	pub := &capturePublisher{}
	in := NewInbound(auth.NewJWTVerifier(testSecret), failingCooldowns{}, pub, InboundConfig{}, nil, zap.NewNop())
	sess := &Session{}
	authenticate(t, in, sess, auth.Identity{ID: "1"})

	r := decodeReply(t, in.Handle(context.Background(), sess, []byte(`{"type":"chat:post","payload":{"content":"hi"}}`)))
	if r.Error != ErrMsgUnavailable {
		t.Errorf("expected unavailable, got %+v", r)
	}
	if pub.calls != 0 {
		t.Error("chat published despite cooldown store failure")
	}
}
