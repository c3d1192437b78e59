package events

import (
	"math"
	"path/filepath"
	"testing"
)

func TestEventWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.events")

	w, err := NewEventWriter(path)
	if err != nil {
		t.Fatalf("NewEventWriter failed: %v", err)
	}

	if err := w.WriteScalars(1, map[string]float64{"loss": -2.5, "lr": 0.0005}); err != nil {
		t.Fatalf("WriteScalars failed: %v", err)
	}
	if err := w.WriteScalars(2, map[string]float64{"loss": -2.6}); err != nil {
		t.Fatalf("WriteScalars failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	if events[0].Step != 1 {
		t.Errorf("event 0 step = %d, want 1", events[0].Step)
	}
	if math.Abs(events[0].Values["loss"]+2.5) > 1e-12 {
		t.Errorf("event 0 loss = %f, want -2.5", events[0].Values["loss"])
	}
	if math.Abs(events[0].Values["lr"]-0.0005) > 1e-12 {
		t.Errorf("event 0 lr = %f, want 0.0005", events[0].Values["lr"])
	}
	if events[0].WallTime == 0 {
		t.Errorf("event 0 has no wall time")
	}
	if events[1].Step != 2 {
		t.Errorf("event 1 step = %d, want 2", events[1].Step)
	}
}

func TestEventWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.events")

	for i := 0; i < 2; i++ {
		w, err := NewEventWriter(path)
		if err != nil {
			t.Fatalf("NewEventWriter failed: %v", err)
		}
		if err := w.WriteScalars(i, map[string]float64{"loss": float64(i)}); err != nil {
			t.Fatalf("WriteScalars failed: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	events, err := ReadEvents(path)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("reopened log has %d events, want 2", len(events))
	}
}

func TestStoreHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalars.db")

	store, err := NewStore(path, "run1")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	steps := []int{10, 20, 30}
	for i, step := range steps {
		if err := store.WriteScalars(step, map[string]float64{"psnr1": 20 + float64(i)}); err != nil {
			t.Fatalf("WriteScalars failed: %v", err)
		}
	}

	history, err := store.History("psnr1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d points, want 3", len(history))
	}
	for i, p := range history {
		if p.Step != steps[i] {
			t.Errorf("point %d step = %d, want %d", i, p.Step, steps[i])
		}
		if p.Value != 20+float64(i) {
			t.Errorf("point %d value = %f, want %f", i, p.Value, 20+float64(i))
		}
	}

	if got, err := store.History("missing"); err != nil || len(got) != 0 {
		t.Errorf("missing tag: got %v, %v; want empty, nil", got, err)
	}
}

func TestStoreIsolatesRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalars.db")

	a, err := NewStore(path, "a")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer a.Close()
	b, err := NewStore(path, "b")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer b.Close()

	if err := a.WriteScalars(1, map[string]float64{"loss": 1}); err != nil {
		t.Fatalf("WriteScalars failed: %v", err)
	}

	history, err := b.History("loss")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("run b sees run a's scalars")
	}
}

func TestMultiSinkFanout(t *testing.T) {
	dir := t.TempDir()

	w, err := NewEventWriter(filepath.Join(dir, "run.events"))
	if err != nil {
		t.Fatalf("NewEventWriter failed: %v", err)
	}
	store, err := NewStore(filepath.Join(dir, "scalars.db"), "run1")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	multi := MultiSink{w, store}
	if err := multi.WriteScalars(5, map[string]float64{"loss": -1}); err != nil {
		t.Fatalf("WriteScalars failed: %v", err)
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, err := ReadEvents(filepath.Join(dir, "run.events"))
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Step != 5 {
		t.Errorf("event log did not receive the write")
	}

	check, err := NewStore(filepath.Join(dir, "scalars.db"), "run1")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer check.Close()
	history, err := check.History("loss")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 1 || history[0].Step != 5 {
		t.Errorf("scalar store did not receive the write")
	}
}
