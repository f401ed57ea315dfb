package block

import (
	"testing"
	"time"
)

type fakeOwner string

func (f fakeOwner) Name() string { return string(f) }

func TestRequestScanFiresWhenIdle(t *testing.T) {
	b := New(fakeOwner("psc0"), 1)
	fired := 0
	b.ScanFn = func(*Block) { fired++ }

	b.RequestScan()
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if got := b.ScanCount(); got != 1 {
		t.Errorf("ScanCount() = %d, want 1", got)
	}
}

func TestRequestScanCoalescesWhileBusy(t *testing.T) {
	b := New(fakeOwner("psc0"), 1)
	fired := 0
	b.ScanFn = func(*Block) { fired++ }

	b.RequestScan() // fires, leaves scanBusy set until CompleteScan
	b.RequestScan() // busy: coalesced
	b.RequestScan() // busy: coalesced again

	if fired != 1 {
		t.Fatalf("fired = %d, want 1 before completion", fired)
	}
	if got := b.ScanOverflowCount(); got != 2 {
		t.Errorf("ScanOverflowCount() = %d, want 2", got)
	}

	b.CompleteScan(PriorityLow)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1 after only one priority clears", fired)
	}
	b.CompleteScan(PriorityMedium)
	b.CompleteScan(PriorityHigh)

	if fired != 2 {
		t.Fatalf("fired = %d, want 2 once all priorities cleared and the queued request replays", fired)
	}
	if got := b.ScanCount(); got != 2 {
		t.Errorf("ScanCount() = %d, want 2", got)
	}
}

func TestMarkQueuedExclusivity(t *testing.T) {
	b := New(fakeOwner("psc0"), 1)
	if already := b.MarkQueued(); already {
		t.Fatal("first MarkQueued should report not already queued")
	}
	if already := b.MarkQueued(); !already {
		t.Fatal("second MarkQueued should report already queued")
	}
	b.ClearQueued()
	if already := b.MarkQueued(); already {
		t.Fatal("MarkQueued after ClearQueued should report not already queued")
	}
}

func TestStampUpdatesCountAndTime(t *testing.T) {
	b := New(fakeOwner("psc0"), 1)
	now := time.Now()
	b.Stamp(now)
	b.Stamp(now.Add(time.Second))
	if b.Count != 2 {
		t.Errorf("Count = %d, want 2", b.Count)
	}
	if !b.RxTime.Equal(now.Add(time.Second)) {
		t.Errorf("RxTime = %v, want %v", b.RxTime, now.Add(time.Second))
	}
}

func TestSubscribersInvokeOrderAndPanicIsolation(t *testing.T) {
	s := NewSubscribers()
	var order []int

	s.Add(func(*Block) { order = append(order, 1) })
	s.Add(func(*Block) { panic("boom") })
	s.Add(func(*Block) { order = append(order, 3) })

	b := New(fakeOwner("psc0"), 1)
	s.Invoke(b) // should not panic despite the middle subscriber

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("order = %v, want [1 3]", order)
	}
}

func TestSubscribersDel(t *testing.T) {
	s := NewSubscribers()
	calls := 0
	tok := s.Add(func(*Block) { calls++ })
	s.Add(func(*Block) { calls++ })

	s.Del(tok)

	b := New(fakeOwner("psc0"), 1)
	s.Invoke(b)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 after Del", calls)
	}
}
