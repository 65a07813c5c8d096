package events

import (
	"testing"
	"time"
)

func TestChannelFanOut(t *testing.T) {
	c := NewChannel(4)
	sub1 := c.Subscribe()
	sub2 := c.Subscribe()

	if c.SubscriberCount() != 2 {
		t.Fatalf("subscribers = %d, want 2", c.SubscriberCount())
	}

	c.Publish(Event{Type: EventRoundCompleted, Height: 10, Round: 1})

	for i, sub := range []<-chan Event{sub1, sub2} {
		select {
		case ev := <-sub:
			if ev.Type != EventRoundCompleted || ev.Height != 10 {
				t.Errorf("sub%d got %s at height %d", i+1, ev.Type, ev.Height)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d never received the event", i+1)
		}
	}
}

// 구독자 버퍼가 가득 차도 Publish는 블록되지 않아야 함
func TestChannelPublishNeverBlocks(t *testing.T) {
	c := NewChannel(2)
	sub := c.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.Publish(Event{Type: EventVoteReceived, Height: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// 버퍼 크기만큼만 남아 있어야 함
	if got := len(sub); got != 2 {
		t.Errorf("buffered = %d, want 2", got)
	}
}

func TestChannelClose(t *testing.T) {
	c := NewChannel(4)
	sub := c.Subscribe()

	c.Close()

	if _, ok := <-sub; ok {
		t.Error("subscriber channel still open after Close")
	}

	// Close 이후 Publish와 재차 Close는 무해해야 함
	c.Publish(Event{Type: EventRoundFailed})
	c.Close()

	if c.SubscriberCount() != 0 {
		t.Errorf("subscribers = %d after close", c.SubscriberCount())
	}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		EventStartRound:     "START-ROUND",
		EventRoundCompleted: "ROUND-COMPLETED",
		EventByzantineFault: "BYZANTINE-FAULT",
		EventType(99):       "UNKNOWN",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", et, got, want)
		}
	}
}
