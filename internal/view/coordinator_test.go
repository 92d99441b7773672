package view

import (
	"testing"
	"time"

	"github.com/cadenzahq/cadenza/internal/bus"
)

const breakpoint = 100

func TestInitialState(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	st := c.State()
	if st.Mode != Desktop {
		t.Errorf("initial mode = %s, want desktop", st.Mode)
	}
	if st.SelectedID != "" {
		t.Errorf("initial selection = %q, want empty", st.SelectedID)
	}
}

func TestSelectOnDesktopKeepsMode(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	c.SetWidth(150)
	c.SelectConversation("c1")

	st := c.State()
	if st.Mode != Desktop || st.SelectedID != "c1" {
		t.Errorf("state = %+v, want desktop/c1", st)
	}
	if !st.ListVisible() || !st.ChatVisible() {
		t.Error("desktop must show both panes")
	}
}

func TestSelectOnMobileOpensChat(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	c.SetWidth(60)
	if st := c.State(); st.Mode != MobileList {
		t.Fatalf("mode = %s, want mobile-list", st.Mode)
	}

	c.SelectConversation("c1")
	st := c.State()
	if st.Mode != MobileChat || st.SelectedID != "c1" {
		t.Errorf("state = %+v, want mobile-chat/c1", st)
	}
	if st.ListVisible() || !st.ChatVisible() {
		t.Error("mobile-chat must show only the chat pane")
	}
}

func TestGoBackClearsSelection(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	c.SetWidth(60)
	c.SelectConversation("c1")
	c.GoBack()

	st := c.State()
	if st.Mode != MobileList {
		t.Errorf("mode = %s, want mobile-list", st.Mode)
	}
	if st.SelectedID != "" {
		t.Errorf("selection = %q, want cleared", st.SelectedID)
	}
}

func TestGoBackNoopOnDesktop(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	c.SetWidth(150)
	c.SelectConversation("c1")
	c.GoBack()

	st := c.State()
	if st.Mode != Desktop || st.SelectedID != "c1" {
		t.Errorf("GoBack on desktop changed state: %+v", st)
	}
}

func TestMobileChatToDesktopPreservesSelection(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	c.SetWidth(60)
	c.SelectConversation("c-x")

	// Viewport grows past the breakpoint.
	c.SetWidth(140)

	st := c.State()
	if st.Mode != Desktop {
		t.Errorf("mode = %s, want desktop", st.Mode)
	}
	if st.SelectedID != "c-x" {
		t.Errorf("selection = %q, want c-x preserved", st.SelectedID)
	}
	if !st.ListVisible() || !st.ChatVisible() {
		t.Error("desktop must show both panes")
	}
}

func TestDesktopToMobileLandsOnList(t *testing.T) {
	c := NewCoordinator(breakpoint, nil)
	c.SetWidth(150)
	c.SelectConversation("c1")

	c.SetWidth(60)

	st := c.State()
	if st.Mode != MobileList {
		t.Errorf("mode = %s, want mobile-list regardless of selection", st.Mode)
	}
	// Selection is retained, just hidden.
	if st.SelectedID != "c1" {
		t.Errorf("selection = %q, want retained c1", st.SelectedID)
	}
}

func TestWidthChangeWithinModeIsQuiet(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("view.", 10)
	defer unsub()

	c := NewCoordinator(breakpoint, b)
	c.SetWidth(150)
	c.SetWidth(160) // still desktop, no transition

	select {
	case evt := <-ch:
		t.Errorf("unexpected event for non-crossing resize: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("view.", 10)
	defer unsub()

	c := NewCoordinator(breakpoint, b)
	c.SetWidth(60)

	select {
	case evt := <-ch:
		st, ok := evt.Payload.(State)
		if !ok || st.Mode != MobileList {
			t.Errorf("payload = %v, want mobile-list state", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for view.changed")
	}
}
