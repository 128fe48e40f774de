package sse_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/signflow/internal/sse"
)

func TestPublishReachesTopicSubscribersOnly(t *testing.T) {
	h := sse.New()
	a, unsubA := h.Subscribe(sse.DocumentTopic("a"))
	b, unsubB := h.Subscribe(sse.DocumentTopic("b"))
	defer unsubB()

	h.Publish(sse.DocumentTopic("a"), sse.Event{Type: "field_signed", Data: `{}`})

	select {
	case ev := <-a:
		assert.Equal(t, "field_signed", ev.Type)
	default:
		t.Fatal("subscriber of a got nothing")
	}
	select {
	case ev := <-b:
		t.Fatalf("unexpected event %v", ev)
	default:
	}

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Zero(t, h.Subscribers(sse.DocumentTopic("a")))

	// Publishing after unsubscribe must not panic.
	h.Publish(sse.DocumentTopic("a"), sse.Event{Type: "x"})
}

func TestSlowSubscriberIsSkipped(t *testing.T) {
	h := sse.New()
	ch, unsub := h.Subscribe("t")
	defer unsub()
	for i := 0; i < 40; i++ {
		h.Publish("t", sse.Event{Type: "tick"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestEventFraming(t *testing.T) {
	ev, err := sse.NewEvent("document_completed", map[string]string{"title": "NDA"})
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = ev.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, "event: document_completed\ndata: {\"title\":\"NDA\"}\n\n", buf.String())
}
