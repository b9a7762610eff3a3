package mask

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/keyai/internal/metrics"
)

func typed(ts int64, text, app, title string) []Keystroke {
	ks := make([]Keystroke, 0, len(text))
	for i, r := range text {
		ks = append(ks, Keystroke{
			TS:          ts + int64(i),
			Key:         string(r),
			Fragment:    string(r),
			Application: app,
			WindowTitle: title,
		})
	}
	return ks
}

func drainEvents(t *testing.T, out <-chan Event, n int) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-out:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestWorkerMasksCoalescedRuns(t *testing.T) {
	m := metrics.New()
	w := NewWorker(New(m), 0, time.Hour, m)

	in := make(chan Keystroke)
	out := make(chan Event, 8)
	w.Start(context.Background(), in, out)

	for _, k := range typed(100, "my email is user@example.com", "Mail", "Compose") {
		in <- k
	}
	in <- Keystroke{TS: 200, Key: "Return", Application: "Mail", WindowTitle: "Compose"}
	close(in)
	w.Wait()

	got := drainEvents(t, out, 1)
	if strings.Contains(got[0].Content, "user@example.com") {
		t.Errorf("raw email leaked through: %q", got[0].Content)
	}
	if !strings.Contains(got[0].Content, "my email is") {
		t.Errorf("non-sensitive text lost: %q", got[0].Content)
	}
	if got[0].Kind != KindText || got[0].TS != 100 {
		t.Errorf("kind=%q ts=%d, want text run starting at 100", got[0].Kind, got[0].TS)
	}
	if !hasTag(got[0].Tags, "email") {
		t.Errorf("tags = %v, want email", got[0].Tags)
	}
	if n := metrics.Load(&m.EventsMasked); n != 1 {
		t.Errorf("EventsMasked = %d, want 1", n)
	}
}

func TestWorkerEmitsDiscreteKeys(t *testing.T) {
	m := metrics.New()
	w := NewWorker(New(m), 0, time.Hour, m)

	in := make(chan Keystroke)
	out := make(chan Event, 8)
	w.Start(context.Background(), in, out)

	for _, k := range typed(10, "ok", "Editor", "") {
		in <- k
	}
	in <- Keystroke{TS: 20, Key: "F5", EmitKey: true, Application: "Editor"}
	close(in)
	w.Wait()

	got := drainEvents(t, out, 2)
	if got[0].Kind != KindText || got[0].Content != "ok" {
		t.Errorf("first event = %q/%q, want text %q", got[0].Kind, got[0].Content, "ok")
	}
	if got[1].Kind != KindKey || got[1].Content != "F5" {
		t.Errorf("second event = %q/%q, want key F5", got[1].Kind, got[1].Content)
	}
	if got[0].TS >= got[1].TS {
		t.Errorf("events out of order: %d then %d", got[0].TS, got[1].TS)
	}
}

func TestWorkerFlushesIdleRun(t *testing.T) {
	m := metrics.New()
	w := NewWorker(New(m), 0, 20*time.Millisecond, m)

	in := make(chan Keystroke)
	out := make(chan Event, 8)
	w.Start(context.Background(), in, out)

	in <- Keystroke{TS: time.Now().UnixMilli() - 1000, Key: "a", Fragment: "a"}

	got := drainEvents(t, out, 1)
	if got[0].Content != "a" {
		t.Errorf("content = %q, want a", got[0].Content)
	}
	close(in)
	w.Wait()
}

func TestWorkerFlushesFinalRunOnClose(t *testing.T) {
	m := metrics.New()
	w := NewWorker(New(m), 0, time.Hour, m)

	in := make(chan Keystroke)
	out := make(chan Event, 8)
	w.Start(context.Background(), in, out)

	for _, k := range typed(1, "tail", "", "") {
		in <- k
	}
	close(in)
	w.Wait()

	got := drainEvents(t, out, 1)
	if got[0].Content != "tail" {
		t.Errorf("content = %q, want tail", got[0].Content)
	}
	if _, ok := <-out; ok {
		t.Error("expected output channel to be closed")
	}
}

func TestWorkerForcedStopDropsOpenRun(t *testing.T) {
	m := metrics.New()
	w := NewWorker(New(m), 0, time.Hour, m)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan Keystroke)
	out := make(chan Event, 8)
	w.Start(ctx, in, out)

	in <- Keystroke{TS: 1, Key: "x", Fragment: "x"}
	cancel()
	w.Wait()

	if _, ok := <-out; ok {
		t.Error("expected no events after forced stop")
	}
}
