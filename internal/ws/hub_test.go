package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/relay"
	"github.com/dgnsrekt/livetiming-relay/internal/state"
)

type staticSnapshot []byte

func (s staticSnapshot) SnapshotMessage() ([]byte, error) { return s, nil }

type fakeSubscriber struct {
	id     string
	buf    chan []byte
	closed atomic.Bool
}

func newFakeSubscriber(id string, size int) *fakeSubscriber {
	return &fakeSubscriber{id: id, buf: make(chan []byte, size)}
}

func (f *fakeSubscriber) ID() string        { return f.id }
func (f *fakeSubscriber) Transport() string { return "fake" }
func (f *fakeSubscriber) Close()            { f.closed.Store(true) }

func (f *fakeSubscriber) Enqueue(msg []byte) bool {
	if f.closed.Load() {
		return false
	}
	select {
	case f.buf <- msg:
		return true
	default:
		return false
	}
}

func (f *fakeSubscriber) next(t *testing.T) []byte {
	t.Helper()
	select {
	case msg := <-f.buf:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber %s: timed out waiting for message", f.id)
		return nil
	}
}

func startHub(t *testing.T, snapshots SnapshotSource) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(snapshots, nil, zap.NewNop())
	go hub.Run(ctx)
	return hub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHub_JoinReceivesSnapshotThenDeltas(t *testing.T) {
	hub := startHub(t, staticSnapshot(`{"R":{}}`))
	sub := newFakeSubscriber("a", 8)

	hub.Register(sub)
	if got := string(sub.next(t)); got != `{"R":{}}` {
		t.Fatalf("expected snapshot first, got %s", got)
	}

	hub.Broadcast([]byte("delta-1"))
	hub.Broadcast([]byte("delta-2"))

	if got := string(sub.next(t)); got != "delta-1" {
		t.Errorf("expected delta-1, got %s", got)
	}
	if got := string(sub.next(t)); got != "delta-2" {
		t.Errorf("expected delta-2, got %s", got)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}
}

func TestHub_IdenticalFanOut(t *testing.T) {
	hub := startHub(t, staticSnapshot(`{"R":{}}`))
	subs := []*fakeSubscriber{newFakeSubscriber("a", 8), newFakeSubscriber("b", 8), newFakeSubscriber("c", 8)}
	for _, s := range subs {
		hub.Register(s)
		s.next(t)
	}

	hub.Broadcast([]byte("same"))
	for _, s := range subs {
		if got := string(s.next(t)); got != "same" {
			t.Errorf("subscriber %s got %s", s.id, got)
		}
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := startHub(t, staticSnapshot(`{"R":{}}`))
	slow := newFakeSubscriber("slow", 1)
	fast := newFakeSubscriber("fast", 8)

	hub.Register(slow)
	hub.Register(fast)
	fast.next(t)

	// slow never drains its snapshot, so the first delta overflows it.
	hub.Broadcast([]byte("delta"))

	if got := string(fast.next(t)); got != "delta" {
		t.Errorf("expected fast subscriber to get delta, got %s", got)
	}
	waitFor(t, func() bool { return slow.closed.Load() })
	waitFor(t, func() bool { return hub.ClientCount() == 1 })
}

func TestHub_Unregister(t *testing.T) {
	hub := startHub(t, staticSnapshot(`{"R":{}}`))
	sub := newFakeSubscriber("a", 8)
	hub.Register(sub)
	sub.next(t)

	hub.Unregister(sub)
	hub.Unregister(sub)

	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	if !sub.closed.Load() {
		t.Error("expected subscriber closed on unregister")
	}
}

func TestHub_ShutdownClosesSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(staticSnapshot(`{"R":{}}`), nil, zap.NewNop())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	sub := newFakeSubscriber("a", 8)
	hub.Register(sub)
	cancel()
	<-done

	if !sub.closed.Load() {
		t.Error("expected subscriber closed on shutdown")
	}

	late := newFakeSubscriber("late", 8)
	hub.Register(late)
	if !late.closed.Load() {
		t.Error("expected late subscriber closed after shutdown")
	}
	hub.Broadcast([]byte("ignored"))
}

// A subscriber joining while deltas are flowing converges on the store's
// final state: nothing merged after the join snapshot is missed.
func TestHub_JoinDuringTrafficConverges(t *testing.T) {
	store := state.NewStore(nil, zap.NewNop())
	hub := startHub(t, store)
	pipeline := relay.NewPipeline(store, hub, nil, zap.NewNop())
	_ = pipeline.Seed(json.RawMessage(`{"LapCount":{"CurrentLap":0}}`))

	const total = 300
	sub := newFakeSubscriber("joiner", total+16)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= total; i++ {
			pipeline.Apply([]livetiming.Update{{
				Feed:    livetiming.FeedLapCount,
				Payload: json.RawMessage(fmt.Sprintf(`{"CurrentLap":%d}`, i)),
			}})
			if i == total/3 {
				hub.Register(sub)
			}
		}
	}()
	<-done

	lap := -1
	deadline := time.After(2 * time.Second)
	for lap != total {
		select {
		case msg := <-sub.buf:
			lap = applyLap(t, msg, lap)
		case <-deadline:
			t.Fatalf("subscriber converged to lap %d, want %d", lap, total)
		}
	}
}

func applyLap(t *testing.T, msg []byte, current int) int {
	t.Helper()
	parsed, err := livetiming.ParseMessage(msg)
	if err != nil {
		t.Fatalf("parsing %s: %v", msg, err)
	}
	if parsed.Snapshot != nil {
		var root struct {
			LapCount struct {
				CurrentLap int `json:"CurrentLap"`
			} `json:"LapCount"`
		}
		_ = json.Unmarshal(parsed.Snapshot, &root)
		current = root.LapCount.CurrentLap
	}
	for _, u := range parsed.Updates {
		var p struct {
			CurrentLap int `json:"CurrentLap"`
		}
		_ = json.Unmarshal(u.Payload, &p)
		current = p.CurrentLap
	}
	return current
}
