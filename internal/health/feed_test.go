package health

import (
	"testing"

	"github.com/postalsys/muti-ping/internal/ping"
)

func TestFeed_PublishSubscribe(t *testing.T) {
	feed := NewFeed(4)
	a, cancelA := feed.Subscribe()
	b, cancelB := feed.Subscribe()
	defer cancelA()
	defer cancelB()

	feed.Publish(ping.EchoResult{Sequence: 1})

	for name, ch := range map[string]<-chan ping.EchoResult{"a": a, "b": b} {
		select {
		case r := <-ch:
			if r.Sequence != 1 {
				t.Errorf("subscriber %s got sequence %d, want 1", name, r.Sequence)
			}
		default:
			t.Errorf("subscriber %s got nothing", name)
		}
	}
}

func TestFeed_SlowSubscriberDrops(t *testing.T) {
	feed := NewFeed(1)
	ch, cancel := feed.Subscribe()
	defer cancel()

	feed.Publish(ping.EchoResult{Sequence: 1})
	feed.Publish(ping.EchoResult{Sequence: 2})
	feed.Publish(ping.EchoResult{Sequence: 3})

	if got := feed.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if r := <-ch; r.Sequence != 1 {
		t.Errorf("buffered sequence = %d, want 1", r.Sequence)
	}
}

func TestFeed_Unsubscribe(t *testing.T) {
	feed := NewFeed(1)
	ch, cancel := feed.Subscribe()

	if feed.Subscribers() != 1 {
		t.Fatalf("Subscribers() = %d, want 1", feed.Subscribers())
	}

	cancel()
	cancel()

	if feed.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", feed.Subscribers())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestFeed_Close(t *testing.T) {
	feed := NewFeed(1)
	ch, cancel := feed.Subscribe()

	feed.Close()
	feed.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}

	late, _ := feed.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscription after Close should be closed")
	}

	feed.Publish(ping.EchoResult{})
}
