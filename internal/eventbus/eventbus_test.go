package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribeFiltersByTopic(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("m1", []Topic{TopicLogs})
	defer sub.Close()

	b.Publish("m1", TopicStatus, "ignored")
	b.Publish("m1", TopicLogs, "hello")

	select {
	case ev := <-sub.C:
		if ev.Topic != TopicLogs || ev.Payload != "hello" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	b := New(2)
	sub := b.Subscribe("m1", nil)
	defer sub.Close()

	b.Publish("m1", TopicLogs, 1)
	b.Publish("m1", TopicLogs, 2)
	b.Publish("m1", TopicLogs, 3) // buffer holds 2; oldest (1) should drop

	first := <-sub.C
	second := <-sub.C
	if first.Payload != 2 || second.Payload != 3 {
		t.Fatalf("expected [2,3], got [%v,%v]", first.Payload, second.Payload)
	}
}

func TestSubscribeIsolatesMissions(t *testing.T) {
	b := New(0)
	subA := b.Subscribe("a", nil)
	subB := b.Subscribe("b", nil)
	defer subA.Close()
	defer subB.Close()

	b.Publish("a", TopicLogs, "for-a")

	select {
	case ev := <-subA.C:
		if ev.Payload != "for-a" {
			t.Fatalf("unexpected payload %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	select {
	case ev := <-subB.C:
		t.Fatalf("mission b should not receive mission a's event: %+v", ev)
	default:
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b := New(0)
	sub := b.Subscribe("m1", nil)
	if b.SubscriberCount("m1") != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	sub.Close()
	if b.SubscriberCount("m1") != 0 {
		t.Fatalf("expected 0 subscribers after close")
	}
}
