package stream

import (
	"sync"
	"testing"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *frameRecorder) WriteFrame(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) all() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]Frame, len(r.frames))
	copy(copied, r.frames)
	return copied
}

func TestSessionFrameGrammar(t *testing.T) {
	rec := &frameRecorder{}
	sess := NewSession("s1", rec)

	if err := sess.Begin("req-1", "gpt-4o-mini"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	deltas := []string{"你", "好", "，", "世界"}
	for _, d := range deltas {
		if err := sess.Content(d); err != nil {
			t.Fatalf("content failed: %v", err)
		}
	}
	if err := sess.End(Frame{FinishReason: "stop"}); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	frames := rec.all()
	if frames[0].Type != FrameStart {
		t.Fatalf("expected START first, got %s", frames[0].Type)
	}
	content := frames[1 : len(frames)-1]
	if len(content) != len(deltas) {
		t.Fatalf("expected %d content frames, got %d", len(deltas), len(content))
	}
	for i, f := range content {
		if f.Type != FrameContent {
			t.Fatalf("frame %d: expected CONTENT, got %s", i, f.Type)
		}
		if f.Index != i {
			t.Fatalf("frame %d: expected contiguous index %d, got %d", i, i, f.Index)
		}
	}
	last := frames[len(frames)-1]
	if last.Type != FrameEnd || !last.IsEnd || last.FinishReason != "stop" {
		t.Fatalf("unexpected terminal frame: %+v", last)
	}
}

func TestSessionSingleFlight(t *testing.T) {
	rec := &frameRecorder{}
	sess := NewSession("s1", rec)

	if err := sess.Begin("req-1", "m"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := sess.Begin("req-2", "m"); err != ErrBusy {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := sess.End(Frame{FinishReason: "stop"}); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if err := sess.Begin("req-2", "m"); err != nil {
		t.Fatalf("begin after end failed: %v", err)
	}
}

func TestSessionSurvivesRequestError(t *testing.T) {
	rec := &frameRecorder{}
	sess := NewSession("s1", rec)

	if err := sess.Begin("req-1", "m"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	_ = sess.Content("partial")
	sess.Fail("provider timeout")

	frames := rec.all()
	last := frames[len(frames)-1]
	if last.Type != FrameError || last.ErrorMessage != "provider timeout" {
		t.Fatalf("expected ERROR terminal frame, got %+v", last)
	}

	// The channel itself stays open for further requests.
	if err := sess.Begin("req-2", "m"); err != nil {
		t.Fatalf("begin after failure: %v", err)
	}
	if err := sess.Content("fresh"); err != nil {
		t.Fatalf("content after failure: %v", err)
	}
	all := rec.all()
	if got := all[len(all)-1].Index; got != 0 {
		t.Fatalf("indices must restart at 0 per logical request, got %d", got)
	}
}

func TestSessionHeartbeatOrthogonal(t *testing.T) {
	rec := &frameRecorder{}
	sess := NewSession("s1", rec)

	if err := sess.Heartbeat(); err != nil {
		t.Fatalf("heartbeat outside request failed: %v", err)
	}
	if err := sess.Begin("req-1", "m"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	_ = sess.Content("a")
	if err := sess.Heartbeat(); err != nil {
		t.Fatalf("heartbeat mid-request failed: %v", err)
	}
	_ = sess.Content("b")

	frames := rec.all()
	want := 0
	for _, f := range frames {
		if f.Type != FrameContent {
			continue
		}
		if f.Index != want {
			t.Fatalf("heartbeats must not affect indexing: expected %d, got %d", want, f.Index)
		}
		want++
	}
}

func TestSessionCloseAbortsDelivery(t *testing.T) {
	rec := &frameRecorder{}
	sess := NewSession("s1", rec)

	if err := sess.Begin("req-1", "m"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	sess.Close()
	if err := sess.Content("late"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := sess.Begin("req-2", "m"); err != ErrClosed {
		t.Fatalf("expected ErrClosed on reuse, got %v", err)
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	sess := NewSession("s1", &frameRecorder{})

	reg.Register(sess)
	if _, ok := reg.Get("s1"); !ok {
		t.Fatal("expected session to be registered")
	}
	reg.Unregister("s1")
	if _, ok := reg.Get("s1"); ok {
		t.Fatal("expected session to be unregistered")
	}
	if err := sess.Heartbeat(); err != ErrClosed {
		t.Fatalf("unregister must close the session, got %v", err)
	}
	// Double unregister is harmless.
	reg.Unregister("s1")
}
