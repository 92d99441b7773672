// Package view owns the responsive layout state: which conversation is
// selected and which panes are visible. No other component mutates the
// selection; everyone else reads it through State snapshots or view.changed
// bus events.
package view

import (
	"sync"

	"github.com/cadenzahq/cadenza/internal/bus"
)

// Mode is a layout presentation mode.
type Mode string

const (
	// Desktop shows list and chat side by side, independent of selection.
	Desktop Mode = "desktop"
	// MobileList shows only the conversation list.
	MobileList Mode = "mobile-list"
	// MobileChat shows only the chat pane for the selected conversation.
	MobileChat Mode = "mobile-chat"
)

// State is an immutable snapshot of the coordinator. SelectedID is empty
// when nothing is selected.
type State struct {
	Mode       Mode
	SelectedID string
}

// ListVisible reports whether the conversation list pane is shown.
func (s State) ListVisible() bool { return s.Mode != MobileChat }

// ChatVisible reports whether the chat pane is shown.
func (s State) ChatVisible() bool { return s.Mode != MobileList }

// Coordinator is the long-lived layout state machine for a session.
type Coordinator struct {
	mu         sync.RWMutex
	mode       Mode
	selected   string
	width      int
	breakpoint int
	bus        *bus.Bus
}

// NewCoordinator creates a coordinator with the given column breakpoint.
// It starts in desktop mode with no selection; the first SetWidth call
// settles the real mode.
func NewCoordinator(breakpoint int, b *bus.Bus) *Coordinator {
	return &Coordinator{
		mode:       Desktop,
		breakpoint: breakpoint,
		bus:        b,
	}
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return State{Mode: c.mode, SelectedID: c.selected}
}

// SetWidth reports the current viewport width in columns and recomputes the
// mode when the breakpoint is crossed. Crossing into desktop preserves the
// selection; crossing into mobile lands on the list regardless of selection
// (the selection is retained but the chat pane stays hidden until
// re-selected).
func (c *Coordinator) SetWidth(cols int) {
	c.mu.Lock()
	prev := c.mode
	c.width = cols
	if cols >= c.breakpoint {
		c.mode = Desktop
	} else if prev == Desktop {
		c.mode = MobileList
	}
	// Already in a mobile mode and still narrow: stay put.
	changed := c.mode != prev
	st := State{Mode: c.mode, SelectedID: c.selected}
	c.mu.Unlock()

	if changed {
		c.publish(st)
	}
}

// SelectConversation sets the active conversation. On a mobile layout this
// opens the chat pane; on desktop the mode is unchanged.
func (c *Coordinator) SelectConversation(id string) {
	c.mu.Lock()
	c.selected = id
	if c.mode == MobileList {
		c.mode = MobileChat
	}
	st := State{Mode: c.mode, SelectedID: c.selected}
	c.mu.Unlock()

	c.publish(st)
}

// GoBack returns from the mobile chat pane to the list, clearing the
// selection. A no-op in any other mode.
func (c *Coordinator) GoBack() {
	c.mu.Lock()
	if c.mode != MobileChat {
		c.mu.Unlock()
		return
	}
	c.mode = MobileList
	c.selected = ""
	st := State{Mode: c.mode, SelectedID: c.selected}
	c.mu.Unlock()

	c.publish(st)
}

func (c *Coordinator) publish(st State) {
	if c.bus != nil {
		c.bus.Emit(bus.KindViewChanged, st)
	}
}
