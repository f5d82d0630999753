package pool

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestStartWriteSessionCreatesFirstSet(t *testing.T) {
	p := New(Config{Name: "offsite", Allocation: NeverNewSet})
	setID, reason, err := p.StartWriteSession(time.Now())
	if err != nil {
		t.Fatalf("start write session: %v", err)
	}
	if setID == (uuid.UUID{}) {
		t.Fatal("expected non-zero set uuid")
	}
	if reason == "" {
		t.Fatal("expected a reason for the first set")
	}
}

func TestAllocWritableMediaDenseSeq(t *testing.T) {
	p := New(Config{Name: "offsite", Allocation: NeverNewSet})
	m1, m2 := uuid.New(), uuid.New()
	p.AddMedia(MediaID{UUID: m1, LabelText: "TAPE01"})
	p.AddMedia(MediaID{UUID: m2, LabelText: "TAPE02"})

	now := time.Now()
	if _, _, err := p.StartWriteSession(now); err != nil {
		t.Fatalf("start session: %v", err)
	}
	first, err := p.AllocWritableMedia(now)
	if err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	if err := p.SetMediaStatusFull(first); err != nil {
		t.Fatalf("set full: %v", err)
	}
	second, err := p.AllocWritableMedia(now)
	if err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if second == first {
		t.Fatal("expected a different media after marking the first full")
	}

	_, members, err := p.CurrentMediaSet()
	if err != nil {
		t.Fatalf("current media set: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected dense seq_nr with 2 members, got %d", len(members))
	}
}

func TestDamagedMediaSkipped(t *testing.T) {
	p := New(Config{Name: "offsite"})
	good, bad := uuid.New(), uuid.New()
	p.AddMedia(MediaID{UUID: bad, LabelText: "BAD"})
	p.AddMedia(MediaID{UUID: good, LabelText: "GOOD"})
	if err := p.SetMediaStatusDamaged(bad); err != nil {
		t.Fatalf("set damaged: %v", err)
	}

	now := time.Now()
	if _, _, err := p.StartWriteSession(now); err != nil {
		t.Fatalf("start session: %v", err)
	}
	chosen, err := p.AllocWritableMedia(now)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if chosen != good {
		t.Fatalf("expected damaged media to be skipped, got %s", chosen)
	}
}

func TestCalendarPolicySealsOldSet(t *testing.T) {
	policy := CalendarPolicy{Interval: time.Hour}
	start, reason := policy.ShouldStartNewSet(time.Now(), time.Now().Add(-2*time.Hour), false)
	if !start {
		t.Fatal("expected policy to seal a set older than its interval")
	}
	if reason == "" {
		t.Fatal("expected a reason")
	}
}

func TestAllocWithoutSessionFails(t *testing.T) {
	p := New(Config{Name: "offsite"})
	if _, err := p.AllocWritableMedia(time.Now()); err == nil {
		t.Fatal("expected error allocating without a write session")
	}
}
