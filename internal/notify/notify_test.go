package notify

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestRingBuffer_Notify(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Notify(Notification{Type: TypeSigningFailed, Origin: "https://app.example", Message: "boom"})

	if rb.Count() != 1 {
		t.Errorf("Count() = %d, want 1", rb.Count())
	}
	recent := rb.Recent(1)
	if len(recent) != 1 {
		t.Fatalf("Recent(1) len = %d, want 1", len(recent))
	}
	if recent[0].ID == "" {
		t.Error("ID should be auto-generated")
	}
	if recent[0].Timestamp.IsZero() {
		t.Error("Timestamp should be auto-set")
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Notify(Notification{Type: TypeRequestSuperseded, Message: string(rune('A' + i))})
	}

	if rb.Count() != 3 {
		t.Errorf("Count() = %d, want 3 (capped)", rb.Count())
	}
	recent := rb.Recent(10)
	if len(recent) != 3 {
		t.Fatalf("Recent len = %d, want 3", len(recent))
	}
	if recent[0].Message != "E" || recent[2].Message != "C" {
		t.Errorf("order = %q..%q, want E..C", recent[0].Message, recent[2].Message)
	}

	rb.Clear()
	if rb.Count() != 0 || rb.Recent(1) != nil {
		t.Error("Clear should empty the buffer")
	}
}

func TestRingBuffer_RecentByType(t *testing.T) {
	rb := NewRingBuffer(10)
	rb.Notify(Notification{Type: TypeSigningFailed})
	rb.Notify(Notification{Type: TypeReconciliationDeclined})
	rb.Notify(Notification{Type: TypeSigningFailed})

	if got := len(rb.RecentByType(TypeSigningFailed, 10)); got != 2 {
		t.Errorf("RecentByType = %d, want 2", got)
	}
	if got := len(rb.RecentByType(TypeSessionCreated, 10)); got != 0 {
		t.Errorf("RecentByType = %d, want 0", got)
	}
}

func TestRingBuffer_Subscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	var all, failures int32

	unsubscribe := rb.Subscribe(func(Notification) { atomic.AddInt32(&all, 1) })
	rb.SubscribeFiltered(
		func(n Notification) bool { return n.Severity == SeverityError },
		func(Notification) { atomic.AddInt32(&failures, 1) },
	)

	New(TypeSigningFailed).Err(errors.New("rejected by node")).SendTo(rb)
	New(TypeSessionCreated).Origin("https://app.example").SendTo(rb)

	unsubscribe()
	New(TypeSessionRemoved).SendTo(rb)

	if atomic.LoadInt32(&all) != 2 {
		t.Errorf("all handler calls = %d, want 2", all)
	}
	if atomic.LoadInt32(&failures) != 1 {
		t.Errorf("filtered handler calls = %d, want 1", failures)
	}
}

func TestBuilder(t *testing.T) {
	n := New(TypeReconciliationDeclined).
		Severity(SeverityWarning).
		Origin("https://app.example").
		Request("0x1", "thor_sendTransaction").
		Message("declined").
		Metadata("network", "test").
		Build()

	if n.Severity != SeverityWarning || n.RequestID != "0x1" || n.Method != "thor_sendTransaction" {
		t.Errorf("unexpected notification %s", n)
	}
	if n.Metadata["network"] != "test" {
		t.Errorf("metadata = %v", n.Metadata)
	}

	New(TypeSessionCreated).SendTo(nil)
	Discard{}.Notify(n)
}
