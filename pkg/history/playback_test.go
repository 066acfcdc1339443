package history

import (
	"errors"
	"slices"
	"testing"
)

func TestReplay_OrdersByDelayStamp(t *testing.T) {
	s := New(nil, Deps{})

	// Inserted out of order, as happens when cluster nodes catch up.
	s.Add(groupchat("T3", 3))
	s.Add(groupchat("T1", 1))
	s.Add(groupchat("T2", 2))

	replayed, err := s.Replay()
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if got := ids(replayed); !slices.Equal(got, []string{"T1", "T2", "T3"}) {
		t.Errorf("Replay() = %v, want [T1 T2 T3]", got)
	}

	if got := ids(s.Retained()); !slices.Equal(got, []string{"T3", "T1", "T2"}) {
		t.Errorf("Retained() = %v, insertion order must be untouched", got)
	}
}

func TestReplayReversed_WalksBackwards(t *testing.T) {
	s := New(nil, Deps{})
	s.Add(groupchat("T3", 3))
	s.Add(groupchat("T1", 1))
	s.Add(groupchat("T2", 2))

	cursor, err := s.ReplayReversed()
	if err != nil {
		t.Fatalf("ReplayReversed() error = %v", err)
	}
	if cursor.HasNext() {
		t.Error("cursor should be positioned after the last message")
	}

	var got []string
	for cursor.HasPrevious() {
		got = append(got, cursor.Previous().ID)
	}
	if !slices.Equal(got, []string{"T3", "T2", "T1"}) {
		t.Errorf("reverse walk = %v, want [T3 T2 T1]", got)
	}
	if cursor.Previous() != nil {
		t.Error("Previous() past the start should return nil")
	}

	if next := cursor.Next(); next == nil || next.ID != "T1" {
		t.Errorf("Next() after rewinding = %v, want T1", next)
	}
	if cursor.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cursor.Len())
	}
}

func TestReplay_StableForEqualStamps(t *testing.T) {
	s := New(nil, Deps{})
	s.Add(groupchat("first", 5))
	s.Add(groupchat("second", 5))
	s.Add(groupchat("early", 1))

	replayed, err := s.Replay()
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(replayed); !slices.Equal(got, []string{"early", "first", "second"}) {
		t.Errorf("Replay() = %v, equal stamps must keep insertion order", got)
	}
}

func TestReplay_ExcludesPinnedSubject(t *testing.T) {
	s := New(nil, Deps{})
	s.Add(groupchat("m1", 1))
	s.Add(subjectChange("s1", "Topic", 2))

	replayed, err := s.Replay()
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(replayed); !slices.Equal(got, []string{"m1"}) {
		t.Errorf("Replay() = %v, want [m1]", got)
	}
}

func TestReplay_MissingDelayFails(t *testing.T) {
	s := New(nil, Deps{})
	s.Add(groupchat("ok", 1))
	unstamped := groupchat("bad", 2)
	unstamped.Delay = nil
	s.Add(unstamped)

	if _, err := s.Replay(); !errors.Is(err, ErrMissingDelay) {
		t.Errorf("Replay() error = %v, want ErrMissingDelay", err)
	}
	if _, err := s.ReplayReversed(); !errors.Is(err, ErrMissingDelay) {
		t.Errorf("ReplayReversed() error = %v, want ErrMissingDelay", err)
	}
}

func TestReplay_Empty(t *testing.T) {
	s := New(nil, Deps{})

	replayed, err := s.Replay()
	if err != nil {
		t.Fatal(err)
	}
	if len(replayed) != 0 {
		t.Errorf("Replay() = %v, want empty", replayed)
	}

	cursor, err := s.ReplayReversed()
	if err != nil {
		t.Fatal(err)
	}
	if cursor.HasPrevious() || cursor.HasNext() {
		t.Error("empty cursor should have nothing to walk")
	}
}
