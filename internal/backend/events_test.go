package backend

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/bus"
)

func TestHandleMessageEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("remote.", 10)
	defer unsub()

	h := NewEventHandler(b, zap.NewNop())
	h.Handle(Event{Kind: "message", Message: &Message{ID: "m1", ConversationID: "c1", Body: "hi"}})

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindRemoteMessage {
			t.Errorf("kind = %q, want %q", evt.Kind, bus.KindRemoteMessage)
		}
		msg, ok := evt.Payload.(*Message)
		if !ok || msg.ID != "m1" {
			t.Errorf("payload = %v, want message m1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestHandleVoteEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("remote.", 10)
	defer unsub()

	h := NewEventHandler(b, zap.NewNop())
	h.Handle(Event{Kind: "vote", Vote: &VoteUpdate{PollID: "p1", VoterID: "u2", OptionIndex: 1}})

	select {
	case evt := <-ch:
		vote, ok := evt.Payload.(*VoteUpdate)
		if !ok || vote.PollID != "p1" || vote.VoterID != "u2" {
			t.Errorf("payload = %v, want vote p1/u2", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestHandleEmptyPayloadsIgnored(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("remote.", 10)
	defer unsub()

	h := NewEventHandler(b, zap.NewNop())
	h.Handle(Event{Kind: "message"})
	h.Handle(Event{Kind: "vote"})
	h.Handle(Event{Kind: "history"})
	h.Handle(Event{Kind: "something_else"})

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: nothing published.
	}
}
