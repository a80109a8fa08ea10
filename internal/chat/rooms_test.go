package chat

import (
	"errors"
	"testing"
)

func TestSetActiveRoomRequestsJoin(t *testing.T) {
	var joined []string
	tr := NewTracker(func(roomID string) error {
		joined = append(joined, roomID)
		return nil
	})

	if err := tr.SetActiveRoom("r-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.SetActiveRoom("r-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Joins are additive only; switching rooms never issues a leave.
	if len(joined) != 2 || joined[0] != "r-1" || joined[1] != "r-2" {
		t.Fatalf("expected joins [r-1 r-2], got %v", joined)
	}
}

func TestBaselineReboundBeforeJoin(t *testing.T) {
	// The comparison baseline must already point at the new room while
	// the transport join is still in flight; a message can arrive in
	// that gap and must be classified against the new room.
	var tr *Tracker
	tr = NewTracker(func(roomID string) error {
		if !tr.IsActiveRoom(roomID) {
			t.Errorf("baseline not rebound before join of %q", roomID)
		}
		if tr.IsActiveRoom("r-old") {
			t.Error("previous room still reads as active during join")
		}
		return nil
	})

	if err := tr.SetActiveRoom("r-old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.SetActiveRoom("r-new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsActiveRoom(t *testing.T) {
	tr := NewTracker(nil)

	if tr.IsActiveRoom("r-1") {
		t.Error("no room is active yet")
	}
	if tr.IsActiveRoom("") {
		t.Error("empty id must never read as active")
	}

	if err := tr.SetActiveRoom("r-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.IsActiveRoom("r-1") {
		t.Error("expected r-1 active")
	}
	if tr.IsActiveRoom("r-2") {
		t.Error("r-2 must not read as active")
	}
}

func TestDeactivate(t *testing.T) {
	joins := 0
	tr := NewTracker(func(string) error {
		joins++
		return nil
	})

	if err := tr.SetActiveRoom("r-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.SetActiveRoom(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tr.IsActiveRoom("r-1") {
		t.Error("expected r-1 inactive after deactivation")
	}
	if _, ok := tr.ActiveRoom(); ok {
		t.Error("expected no active room")
	}
	if joins != 1 {
		t.Errorf("deactivation must not join; got %d joins", joins)
	}
}

func TestJoinErrorSurfacesAfterRebind(t *testing.T) {
	joinErr := errors.New("transport down")
	tr := NewTracker(func(string) error { return joinErr })

	err := tr.SetActiveRoom("r-1")
	if !errors.Is(err, joinErr) {
		t.Fatalf("expected join error, got %v", err)
	}
	// The baseline still moved: routing truth is local state, and the
	// history fetch alone establishes message truth.
	if !tr.IsActiveRoom("r-1") {
		t.Error("expected baseline rebound despite join failure")
	}
}
