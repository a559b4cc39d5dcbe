package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	deliveries, unsubDel := b.Subscribe(4, "delivery.")
	defer unsubDel()

	b.Publish(Event{Type: TopicNotificationRecorded})
	b.Publish(Event{Type: TopicDeliverySent, Data: Delivery{Channel: "webhook"}})

	require.Len(t, all, 2)
	require.Len(t, deliveries, 1)

	got := <-deliveries
	assert.Equal(t, TopicDeliverySent, got.Type)
	assert.False(t, got.Time.IsZero())
	assert.Equal(t, "webhook", got.Data.(Delivery).Channel)
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	assert.Equal(t, uint64(2), b.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: TopicConfigReloaded})
}
