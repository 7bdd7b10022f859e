package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("alice@example.com")
	defer cancel()

	event := DeliveryEvent{
		From:      "alice@example.com",
		Recipient: "bob@example.com",
		Delivered: true,
		Subject:   "hello",
		At:        time.Now(),
	}
	hub.Publish([]string{"alice@example.com", "bob@example.com"}, event)

	select {
	case got := <-ch:
		assert.Equal(t, "bob@example.com", got.Recipient)
		assert.True(t, got.Delivered)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestPublishSkipsOtherUsers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("carol@example.com")
	defer cancel()

	hub.Publish([]string{"alice@example.com"}, DeliveryEvent{Recipient: "bob@example.com"})

	select {
	case <-ch:
		t.Fatal("carol should not receive alice's events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("alice@example.com")
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe is a no-op, not a panic.
	hub.Publish([]string{"alice@example.com"}, DeliveryEvent{})
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("alice@example.com")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish([]string{"alice@example.com"}, DeliveryEvent{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
}
