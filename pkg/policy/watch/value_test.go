package watch

import (
	"testing"
	"time"
)

func TestSubscribeObservesCurrentValue(t *testing.T) {
	v := NewValue(1)
	rx := v.Subscribe()

	select {
	case got := <-rx.C():
		if got != 1 {
			t.Fatalf("got %d, want 1", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial value")
	}
}

func TestPublishWakesSubscriber(t *testing.T) {
	v := NewValue(0)
	rx := v.Subscribe()
	<-rx.C() // drain initial value

	v.Publish(42)

	select {
	case got := <-rx.C():
		if got != 42 {
			t.Fatalf("got %d, want 42", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published value")
	}
}

func TestPublishCoalescesWhenSubscriberLagsBehind(t *testing.T) {
	v := NewValue(0)
	rx := v.Subscribe()
	<-rx.C()

	v.Publish(1)
	v.Publish(2)
	v.Publish(3)

	select {
	case got := <-rx.C():
		if got != 3 {
			t.Fatalf("got %d, want 3 (only the latest value should survive)", got)
		}
	default:
		t.Fatal("expected a value to be ready")
	}

	select {
	case _, ok := <-rx.C():
		if ok {
			t.Fatal("expected no further values buffered")
		}
	default:
	}
}

func TestPublishIfModifiedSkipsEqualValues(t *testing.T) {
	v := NewValue("a")
	rx := v.Subscribe()
	<-rx.C()

	eq := func(a, b string) bool { return a == b }

	if v.PublishIfModified("a", eq) {
		t.Fatal("expected no publish for an equal value")
	}
	select {
	case got := <-rx.C():
		t.Fatalf("unexpected value %q delivered for a no-op publish", got)
	default:
	}

	if !v.PublishIfModified("b", eq) {
		t.Fatal("expected publish for a changed value")
	}
	select {
	case got := <-rx.C():
		if got != "b" {
			t.Fatalf("got %q, want %q", got, "b")
		}
	default:
		t.Fatal("expected a value to be ready")
	}
}

func TestCloseClosesSubscriberChannels(t *testing.T) {
	v := NewValue(0)
	rx := v.Subscribe()
	<-rx.C()

	v.Close()

	select {
	case _, ok := <-rx.C():
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}

	late := v.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Fatal("expected a subscription after Close to return an already-closed channel")
	}
}

func TestGetReturnsCurrentValueWithoutSubscribing(t *testing.T) {
	v := NewValue(7)
	v.Publish(9)
	if got := v.Get(); got != 9 {
		t.Fatalf("got %d, want 9", got)
	}
}
