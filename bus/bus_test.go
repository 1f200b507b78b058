package bus

import (
	"testing"
	"time"
)

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe(TopicFormFocused)

	for i := 0; i < 5; i++ {
		b.Publish(TopicFormFocused, FormFocused{FormID: string(rune('a' + i))})
	}

	for i := 0; i < 5; i++ {
		select {
		case env := <-ch:
			msg := env.Payload.(FormFocused)
			if want := string(rune('a' + i)); msg.FormID != want {
				t.Errorf("message %d: got %q, want %q", i, msg.FormID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
}

func TestSubscribeMultipleTopics(t *testing.T) {
	b := New()
	defer b.Close()

	ch := b.Subscribe(TopicFormCompletionReady, TopicFormCompletionError)

	b.Publish(TopicFormCompletionReady, FormCompletionReady{FormID: "f1"})
	b.Publish(TopicFormCompletionError, FormCompletionError{FormID: "f2", Err: "boom"})

	got := make(map[Topic]bool)
	for i := 0; i < 2; i++ {
		select {
		case env := <-ch:
			got[env.Topic] = true
		case <-time.After(time.Second):
			t.Fatal("message never arrived")
		}
	}
	if !got[TopicFormCompletionReady] || !got[TopicFormCompletionError] {
		t.Errorf("topics received: %v", got)
	}
}

func TestPublishToUnsubscribedTopicIsNoOp(t *testing.T) {
	b := New()
	defer b.Close()
	b.Publish(TopicFillForm, FillForm{})
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	defer b.Close()

	// Never drained: the buffer fills and further publishes drop.
	b.Subscribe(TopicFormFocused)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(TopicFormFocused, FormFocused{FormID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicFillForm)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// Publish after close must not panic.
	b.Publish(TopicFillForm, FillForm{})
}
