// Package sync ingests remote backend events into the local projection.
// Ingestion is idempotent: canonical messages upsert on (conversation,
// msg_id), and optimistic local entries are replaced in place when their
// canonical counterpart arrives, so no reader ever sees a duplicate.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/store"
)

// fingerprintBucketMs is the timestamp tolerance when matching a pending
// local message against an arriving canonical one.
const fingerprintBucketMs = 60_000

// Engine handles idempotent ingestion of remote messages and votes.
// It subscribes to "remote." events on the bus and processes them.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	client backend.Client
	logger *zap.Logger
	userID string
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine. userID identifies the local
// participant so their own echoes do not bump unread counters.
func NewEngine(db *store.DB, b *bus.Bus, client backend.Client, userID string, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		client: client,
		logger: logger,
		userID: userID,
	}
}

// Start subscribes to inbound remote events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("remote.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Bootstrap pulls the full conversation and message state from the backend.
// Called once at session start before live events flow.
func (e *Engine) Bootstrap(ctx context.Context) error {
	convs, err := e.client.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	for _, rc := range convs {
		if err := e.db.UpsertConversation(&store.Conversation{
			ID:             rc.ID,
			Name:           rc.Name,
			Participants:   rc.Participants,
			LastActivityAt: rc.LastActivityAt,
		}); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		msgs, err := e.client.FetchMessages(ctx, rc.ID)
		if err != nil {
			return fmt.Errorf("fetch messages for %s: %w", rc.ID, err)
		}
		for i := range msgs {
			if err := e.IngestMessage(&msgs[i], false); err != nil {
				return fmt.Errorf("ingest message: %w", err)
			}
		}
	}
	e.bus.Emit(bus.KindConversationsChanged, "")
	return nil
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRemoteMessage:
		msg, ok := evt.Payload.(*backend.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(msg, true); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindRemoteVote:
		vote, ok := evt.Payload.(*backend.VoteUpdate)
		if !ok {
			return
		}
		if err := e.IngestVote(vote); err != nil {
			e.logger.Error("failed to ingest vote", zap.Error(err), zap.String("poll_id", vote.PollID))
		}
	case bus.KindRemoteHistory:
		msgs, ok := evt.Payload.([]*backend.Message)
		if !ok {
			return
		}
		for _, msg := range msgs {
			if err := e.IngestMessage(msg, false); err != nil {
				e.logger.Error("failed to ingest history message", zap.Error(err), zap.String("msg_id", msg.ID))
			}
		}
		e.logger.Info("history batch ingested", zap.Int("messages", len(msgs)))
	}
}

// IngestMessage merges one canonical message into the projection. live
// controls unread accounting: history replays never bump counters.
func (e *Engine) IngestMessage(rm *backend.Message, live bool) error {
	conversationID := rm.ConversationID

	// Already known canonically: refresh in place.
	existing, err := e.db.GetMessage(conversationID, rm.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.Body = rm.Body
		// Own echoes confirm delivery; other authors keep whatever
		// status the projection already holds.
		if rm.AuthorID == e.userID {
			existing.Status = store.StatusSent
		}
		if err := e.db.UpsertMessage(existing); err != nil {
			return fmt.Errorf("refresh message: %w", err)
		}
		if err := e.applyPollClosure(rm); err != nil {
			return err
		}
		e.bus.Emit(bus.KindMessagesChanged, conversationID)
		return nil
	}

	canonical := e.toStoreMessage(rm)

	// An optimistic local entry with the same content fingerprint is
	// replaced in place, never duplicated.
	local, err := e.db.FindPendingByFingerprint(conversationID, rm.AuthorID, rm.Body, rm.Timestamp, fingerprintBucketMs)
	if err != nil {
		return err
	}
	if local != nil {
		if canonical.PollID == "" {
			canonical.PollID = local.PollID
		}
		if canonical.AttachmentID == "" {
			canonical.AttachmentID = local.AttachmentID
		}
		if canonical.Kind == store.KindText && local.Kind != store.KindText {
			canonical.Kind = local.Kind
		}
		if err := e.db.ReplaceMessage(conversationID, local.MsgID, canonical); err != nil {
			return fmt.Errorf("reconcile pending message: %w", err)
		}
		e.bus.Emit(bus.KindMessagesChanged, conversationID)
		return nil
	}

	inserted, err := e.ensureSubEntities(rm, canonical)
	if err != nil {
		return err
	}
	if !inserted {
		if err := e.db.UpsertMessage(canonical); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
	}

	if err := e.db.UpsertConversation(&store.Conversation{
		ID:             conversationID,
		LastActivityAt: rm.Timestamp,
		LastPreview:    truncate(rm.Body, 100),
	}); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	if live && rm.AuthorID != e.userID {
		if err := e.db.IncrementUnread(conversationID); err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
	}

	e.bus.Emit(bus.KindMessagesChanged, conversationID)
	e.bus.Emit(bus.KindConversationsChanged, conversationID)
	return nil
}

// IngestVote applies a remote vote. Duplicate voters are ignored; the tally
// and voter set move together or not at all.
func (e *Engine) IngestVote(vote *backend.VoteUpdate) error {
	p, err := e.db.GetPoll(vote.PollID)
	if err != nil {
		return err
	}
	if p == nil {
		e.logger.Warn("vote for unknown poll dropped", zap.String("poll_id", vote.PollID))
		return nil
	}
	if p.Closed {
		return nil
	}
	if vote.OptionIndex < 0 || vote.OptionIndex >= len(p.Options) {
		e.logger.Warn("vote with invalid option dropped",
			zap.String("poll_id", vote.PollID), zap.Int("option", vote.OptionIndex))
		return nil
	}

	applied, err := e.db.RecordVote(vote.PollID, vote.VoterID, vote.OptionIndex)
	if errors.Is(err, store.ErrPollClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record remote vote: %w", err)
	}
	if applied {
		e.bus.Emit(bus.KindPollChanged, vote.PollID)
	}
	return nil
}

func (e *Engine) toStoreMessage(rm *backend.Message) *store.Message {
	kind := rm.Kind
	if kind == "" {
		kind = store.KindText
	}
	m := &store.Message{
		ConversationID: rm.ConversationID,
		MsgID:          rm.ID,
		AuthorID:       rm.AuthorID,
		Body:           rm.Body,
		Kind:           kind,
		Status:         store.StatusReceived,
		Timestamp:      rm.Timestamp,
	}
	if rm.AuthorID == e.userID {
		m.Status = store.StatusSent
	}
	if rm.Poll != nil {
		m.Kind = store.KindPoll
		m.PollID = rm.Poll.ID
	}
	return m
}

// ensureSubEntities creates the poll or attachment rows a remote message
// references, when they are not known locally yet. Reports whether the
// hosting message was already inserted (poll creation inserts it in the
// same transaction).
func (e *Engine) ensureSubEntities(rm *backend.Message, canonical *store.Message) (inserted bool, err error) {
	if rm.Poll != nil {
		existing, err := e.db.GetPoll(rm.Poll.ID)
		if err != nil {
			return false, err
		}
		if existing == nil {
			p := &store.Poll{ID: rm.Poll.ID, MessageID: canonical.MsgID, Closed: rm.Poll.Closed}
			for i, text := range rm.Poll.Options {
				p.Options = append(p.Options, store.PollOption{Index: i, Text: text})
			}
			if err := e.db.CreatePoll(p, canonical); err != nil {
				return false, fmt.Errorf("create remote poll: %w", err)
			}
			return true, nil
		}
		if err := e.applyPollClosure(rm); err != nil {
			return false, err
		}
		return false, nil
	}
	if rm.AttachmentRef != "" && canonical.AttachmentID == "" {
		att := &store.Attachment{
			ID:         rm.ID + "-att",
			MessageID:  canonical.MsgID,
			StorageRef: rm.AttachmentRef,
			MimeType:   rm.MimeType,
			Filename:   rm.Filename,
			Status:     store.UploadReady,
		}
		if err := e.db.InsertAttachment(att); err != nil {
			return false, fmt.Errorf("insert remote attachment: %w", err)
		}
		canonical.Kind = store.KindAttachment
		canonical.AttachmentID = att.ID
	}
	return false, nil
}

// applyPollClosure propagates a remote closed flag onto an existing local
// poll. Closure is one-way; a remote reopen is ignored.
func (e *Engine) applyPollClosure(rm *backend.Message) error {
	if rm.Poll == nil || !rm.Poll.Closed {
		return nil
	}
	p, err := e.db.GetPoll(rm.Poll.ID)
	if err != nil {
		return err
	}
	if p == nil || p.Closed {
		return nil
	}
	if err := e.db.ClosePoll(rm.Poll.ID); err != nil {
		return fmt.Errorf("close remote poll: %w", err)
	}
	e.bus.Emit(bus.KindPollChanged, rm.Poll.ID)
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return strings.ToValidUTF8(s[:maxLen], "")
}
