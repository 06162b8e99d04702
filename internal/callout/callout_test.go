// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package callout

import (
	"testing"
	"time"

	"grimm.is/igmpproxy/internal/clock"
)

func TestSetFiresInOrder(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	s := New(mc.Now)

	var fired []string
	s.Set(2*time.Second, func(arg any) { fired = append(fired, arg.(string)) }, "second")
	s.Set(1*time.Second, func(arg any) { fired = append(fired, arg.(string)) }, "first")

	mc.Advance(3 * time.Second)
	s.Age(mc.Now())

	if len(fired) != 2 || fired[0] != "first" || fired[1] != "second" {
		t.Fatalf("expected [first second], got %v", fired)
	}
}

func TestSimultaneousExpiryInsertionOrder(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	s := New(mc.Now)

	var fired []int
	s.Set(1*time.Second, func(arg any) { fired = append(fired, arg.(int)) }, 1)
	s.Set(1*time.Second, func(arg any) { fired = append(fired, arg.(int)) }, 2)
	s.Set(1*time.Second, func(arg any) { fired = append(fired, arg.(int)) }, 3)

	mc.Advance(1 * time.Second)
	s.Age(mc.Now())

	if len(fired) != 3 || fired[0] != 1 || fired[1] != 2 || fired[2] != 3 {
		t.Fatalf("expected [1 2 3] insertion order, got %v", fired)
	}
}

func TestClearIsNoopOnUnknownOrFired(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	s := New(mc.Now)

	h := s.Set(time.Second, func(any) {}, nil)
	mc.Advance(time.Second)
	s.Age(mc.Now())

	// Already fired; Clear must be a no-op, not panic.
	s.Clear(h)
	s.Clear(Handle(99999))
	s.Clear(0)
}

func TestClearPreventsFiring(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	s := New(mc.Now)

	fired := false
	h := s.Set(time.Second, func(any) { fired = true }, nil)
	s.Clear(h)

	mc.Advance(2 * time.Second)
	s.Age(mc.Now())

	if fired {
		t.Fatal("cleared timer fired")
	}
}

func TestLeftAndInQueue(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	s := New(mc.Now)

	h := s.Set(5*time.Second, func(any) {}, nil)
	if !s.InQueue(h) {
		t.Fatal("expected handle to be in queue")
	}
	if s.Left(h) != 5*time.Second {
		t.Fatalf("expected 5s left, got %v", s.Left(h))
	}

	mc.Advance(2 * time.Second)
	if s.Left(h) != 3*time.Second {
		t.Fatalf("expected 3s left, got %v", s.Left(h))
	}

	mc.Advance(10 * time.Second)
	s.Age(mc.Now())
	if s.InQueue(h) {
		t.Fatal("expected handle to no longer be in queue after firing")
	}
	if s.Left(h) != 0 {
		t.Fatalf("expected 0 left for fired handle, got %v", s.Left(h))
	}
}

func TestZeroHandleAlwaysInert(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	s := New(mc.Now)

	if s.InQueue(0) {
		t.Fatal("zero handle must never be in queue")
	}
	if s.Left(0) != 0 {
		t.Fatal("zero handle must report 0 remaining")
	}
}
