package bus

import (
	"context"
	"errors"
	"testing"
)

func TestPublishInvokesHandlersInOrder(t *testing.T) {
	b := New(nil)
	var calls []string

	for _, name := range []string{"h1", "h2", "h3"} {
		name := name
		b.Subscribe(TypeInbound, func(ctx context.Context, ev Event) error {
			calls = append(calls, name)
			return nil
		})
	}

	b.PublishInbound(context.Background(), InboundMessage{Channel: "t", ChatID: "1", Content: "hi"})

	want := []string{"h1", "h2", "h3"}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, calls[i], want[i])
		}
	}
}

func TestHandlerErrorSynthesizesErrorEvent(t *testing.T) {
	b := New(nil)

	src := InboundEvent{Message: InboundMessage{Channel: "t", ChatID: "1", Content: "x"}}

	b.Subscribe(TypeInbound, func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	})

	var got []ErrorEvent
	b.Subscribe(TypeError, func(ctx context.Context, ev Event) error {
		got = append(got, ev.(ErrorEvent))
		return nil
	})

	b.Publish(context.Background(), src)

	if len(got) != 1 {
		t.Fatalf("got %d error events, want 1", len(got))
	}
	if got[0].Err.Error() != "boom" {
		t.Errorf("error = %q, want %q", got[0].Err.Error(), "boom")
	}
	srcEv, ok := got[0].Source.(InboundEvent)
	if !ok {
		t.Fatalf("source event type = %T, want InboundEvent", got[0].Source)
	}
	if srcEv.Message.Content != "x" {
		t.Errorf("source content = %q, want %q", srcEv.Message.Content, "x")
	}
	if got[0].Timestamp.IsZero() {
		t.Error("error event timestamp not set")
	}
}

func TestErrorHandlerFailureDoesNotRecurse(t *testing.T) {
	b := New(nil)

	b.Subscribe(TypeInbound, func(ctx context.Context, ev Event) error {
		return errors.New("boom")
	})

	errCalls := 0
	b.Subscribe(TypeError, func(ctx context.Context, ev Event) error {
		errCalls++
		return errors.New("error handler also broken")
	})

	b.PublishInbound(context.Background(), InboundMessage{Channel: "t", ChatID: "1"})

	if errCalls != 1 {
		t.Fatalf("error handler called %d times, want 1", errCalls)
	}
}

func TestHandlerPanicIsCaptured(t *testing.T) {
	b := New(nil)

	b.Subscribe(TypeInbound, func(ctx context.Context, ev Event) error {
		panic("kaboom")
	})

	var got []ErrorEvent
	b.Subscribe(TypeError, func(ctx context.Context, ev Event) error {
		got = append(got, ev.(ErrorEvent))
		return nil
	})

	b.PublishInbound(context.Background(), InboundMessage{Channel: "t", ChatID: "1"})

	if len(got) != 1 {
		t.Fatalf("got %d error events, want 1", len(got))
	}
}

func TestUnsubscribeRemovesSingleOccurrence(t *testing.T) {
	b := New(nil)

	calls := 0
	h := func(ctx context.Context, ev Event) error {
		calls++
		return nil
	}

	sub1 := b.Subscribe(TypeInbound, h)
	b.Subscribe(TypeInbound, h) // duplicate subscription stays

	b.Unsubscribe(sub1)
	b.PublishInbound(context.Background(), InboundMessage{Channel: "t", ChatID: "1"})

	if calls != 1 {
		t.Fatalf("got %d calls after unsubscribe, want 1", calls)
	}

	// Double-unsubscribe is a no-op.
	b.Unsubscribe(sub1)
	b.PublishInbound(context.Background(), InboundMessage{Channel: "t", ChatID: "1"})
	if calls != 2 {
		t.Fatalf("got %d calls, want 2", calls)
	}
}

func TestSubscribeThenUnsubscribeNeverCalls(t *testing.T) {
	b := New(nil)

	called := false
	sub := b.Subscribe(TypeOutbound, func(ctx context.Context, ev Event) error {
		called = true
		return nil
	})
	b.Unsubscribe(sub)

	b.PublishOutbound(context.Background(), OutboundMessage{Channel: "t", ChatID: "1"})

	if called {
		t.Error("handler called after unsubscribe")
	}
}

func TestClosedBusDropsEverything(t *testing.T) {
	b := New(nil)

	called := false
	b.Subscribe(TypeInbound, func(ctx context.Context, ev Event) error {
		called = true
		return nil
	})

	b.Close()
	b.PublishInbound(context.Background(), InboundMessage{Channel: "t", ChatID: "1"})

	if called {
		t.Error("handler called after Close")
	}
}

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	if got := m.SessionKey(); got != "telegram:42" {
		t.Errorf("SessionKey() = %q, want %q", got, "telegram:42")
	}
}
