package events

import (
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/task"
)

func statusEvent(id string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		ID:        id,
		From:      task.StatusPending,
		To:        task.StatusQueued,
		Timestamp: time.Now(),
	}
}

func TestSubscribeReceivesTopicEvents(t *testing.T) {
	b := NewBus()
	defer b.Close()

	taskSub := b.Subscribe(TopicTask, 4)
	featureSub := b.Subscribe(TopicFeature, 4)

	b.Publish(TopicTask, statusEvent("t1"))

	select {
	case ev := <-taskSub:
		if ev.SubjectID() != "t1" {
			t.Errorf("SubjectID = %q, want t1", ev.SubjectID())
		}
	case <-time.After(time.Second):
		t.Fatal("task subscriber received nothing")
	}

	select {
	case ev := <-featureSub:
		t.Errorf("feature subscriber received %v from task topic", ev)
	default:
	}
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	all := b.SubscribeAll(8)
	b.Publish(TopicTask, statusEvent("t1"))
	b.Publish(TopicRateLimit, RateLimitExitedEvent{ProjectID: "p1", Timestamp: time.Now()})

	for _, want := range []string{"t1", "p1"} {
		select {
		case ev := <-all:
			if ev.SubjectID() != want {
				t.Errorf("SubjectID = %q, want %q", ev.SubjectID(), want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing event for %s", want)
		}
	}
}

// TestPublishDropsWhenSubscriberFull verifies a saturated subscriber never
// blocks the publisher.
func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sub := b.Subscribe(TopicTask, 1)
	b.Publish(TopicTask, statusEvent("t1"))

	done := make(chan struct{})
	go func() {
		b.Publish(TopicTask, statusEvent("t2")) // buffer full, must drop
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}

	if ev := <-sub; ev.SubjectID() != "t1" {
		t.Errorf("kept event = %q, want t1", ev.SubjectID())
	}
	select {
	case ev := <-sub:
		t.Errorf("unexpected second event %v", ev)
	default:
	}
}

func TestCloseIsIdempotentAndClosesSubscribers(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(TopicTask, 1)

	b.Close()
	b.Close()

	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open after Close")
	}

	// Publishing and subscribing after close must not panic.
	b.Publish(TopicTask, statusEvent("t1"))
	if _, ok := <-b.Subscribe(TopicTask, 1); ok {
		t.Error("post-close Subscribe returned open channel")
	}
}
