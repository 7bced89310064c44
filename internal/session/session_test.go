package session

import (
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestRecord_AssignsMonotonicSeqIDs(t *testing.T) {
	s := New("plan-1", "test plan")
	a := s.Record(Event{Type: EventStepStarted, StepID: "s1"})
	b := s.Record(Event{Type: EventStepCompleted, StepID: "s1", Success: boolPtr(true)})
	if a != 1 || b != 2 {
		t.Fatalf("got seq ids %d, %d", a, b)
	}
	if len(s.Events) != 2 {
		t.Fatalf("got %d events", len(s.Events))
	}
}

func TestFileStore_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := New("plan-1", "test plan")
	s.Record(Event{Type: EventStepStarted, StepID: "s1"})
	s.Record(Event{Type: EventStepCompleted, StepID: "s1", Success: boolPtr(true), DurationMs: 42})
	s.Status = StatusComplete

	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.PlanID != "plan-1" || loaded.Status != StatusComplete {
		t.Fatalf("got %+v", loaded)
	}
	if len(loaded.Events) != 2 {
		t.Fatalf("got %d events", len(loaded.Events))
	}
	if loaded.Events[1].DurationMs != 42 {
		t.Fatalf("got %+v", loaded.Events[1])
	}
}

func TestFileStore_AppendEventThenLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := New("plan-2", "another plan")
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}

	evt := Event{Type: EventCheckpointCreated, PlanID: "plan-2", StepID: "s1"}
	seq := s.Record(evt)
	evt.SeqID = seq
	if err := store.AppendEvent(s, evt); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Events) != 1 || loaded.Events[0].Type != EventCheckpointCreated {
		t.Fatalf("got %+v", loaded.Events)
	}
}

func TestFileStore_ListReturnsSessionIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s := New("plan-1", "p")
	if err := store.Save(s); err != nil {
		t.Fatal(err)
	}
	ids, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != s.ID {
		t.Fatalf("got %v", ids)
	}
}
