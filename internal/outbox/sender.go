package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/store"
)

const pollInterval = 500 * time.Millisecond

// Sender drains the outbox: queued entries are delivered to the backend
// oldest first, exactly one attempt each. A failed delivery marks the
// optimistic message failed and stays failed; resubmission is the user's
// call and queues a fresh entry.
type Sender struct {
	db     *store.DB
	bus    *bus.Bus
	client backend.Client
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSender(db *store.DB, b *bus.Bus, client backend.Client, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		bus:    b,
		client: client,
		logger: logger.Named("outbox"),
		done:   make(chan struct{}),
	}
}

// Start launches the drain loop in a goroutine.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop halts the drain loop and waits for the in-flight pass to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Drain(ctx); err != nil {
				s.logger.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// Drain delivers every queued entry once. Transport failures settle the
// entry as failed and do not stop the pass.
func (s *Sender) Drain(ctx context.Context) error {
	entries, err := s.db.PendingOutbox()
	if err != nil {
		return fmt.Errorf("list pending outbox: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			return fmt.Errorf("mark sending: %w", err)
		}

		var sendErr error
		switch entry.Kind {
		case store.OutboxMessage:
			sendErr = s.sendMessage(ctx, entry)
		case store.OutboxVote:
			sendErr = s.sendVote(ctx, entry)
		default:
			s.logger.Warn("unknown outbox kind dropped", zap.String("kind", entry.Kind))
			sendErr = fmt.Errorf("unknown outbox kind %q", entry.Kind)
		}

		if sendErr != nil {
			s.settleFailed(entry, sendErr)
		}
	}
	return nil
}

func (s *Sender) sendMessage(ctx context.Context, entry store.OutboxEntry) error {
	msg, err := s.db.GetMessage(entry.ConversationID, entry.ClientMsgID)
	if err != nil {
		return err
	}
	if msg == nil {
		// The optimistic entry was reconciled away before we got here.
		return s.db.MarkOutboxSent(entry.ClientMsgID, "")
	}

	out := backend.OutgoingMessage{
		ClientMsgID: entry.ClientMsgID,
		Kind:        msg.Kind,
		Body:        msg.Body,
	}
	if msg.PollID != "" {
		p, err := s.db.GetPoll(msg.PollID)
		if err != nil {
			return err
		}
		if p != nil {
			out.PollID = p.ID
			for _, opt := range p.Options {
				out.PollOptions = append(out.PollOptions, opt.Text)
			}
		}
	}
	if msg.AttachmentID != "" {
		a, err := s.db.GetAttachment(msg.AttachmentID)
		if err != nil {
			return err
		}
		if a != nil {
			out.AttachmentRef = a.StorageRef
			out.MimeType = a.MimeType
			out.Filename = a.Filename
		}
	}

	canonical, err := s.client.PostMessage(ctx, entry.ConversationID, out)
	if err != nil {
		return err
	}

	if canonical != nil && canonical.ID != "" && canonical.ID != msg.MsgID {
		replacement := *msg
		replacement.MsgID = canonical.ID
		replacement.Status = store.StatusSent
		if canonical.Timestamp > 0 {
			replacement.Timestamp = canonical.Timestamp
		}
		if err := s.db.ReplaceMessage(entry.ConversationID, msg.MsgID, &replacement); err != nil {
			return fmt.Errorf("swap in canonical message: %w", err)
		}
		if err := s.db.MarkOutboxSent(entry.ClientMsgID, canonical.ID); err != nil {
			return err
		}
	} else {
		if err := s.db.SetMessageStatus(entry.ConversationID, msg.MsgID, store.StatusSent); err != nil {
			return err
		}
		if err := s.db.MarkOutboxSent(entry.ClientMsgID, ""); err != nil {
			return err
		}
	}

	s.bus.Emit(bus.KindSendAck, entry.ConversationID)
	s.bus.Emit(bus.KindMessagesChanged, entry.ConversationID)
	return nil
}

func (s *Sender) sendVote(ctx context.Context, entry store.OutboxEntry) error {
	if err := s.client.PostVote(ctx, entry.PollID, entry.VoterID, entry.OptionIndex); err != nil {
		return err
	}
	if err := s.db.MarkOutboxSent(entry.ClientMsgID, ""); err != nil {
		return err
	}
	s.bus.Emit(bus.KindSendAck, entry.PollID)
	return nil
}

func (s *Sender) settleFailed(entry store.OutboxEntry, sendErr error) {
	s.logger.Warn("delivery failed",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.String("kind", entry.Kind),
		zap.Error(sendErr))

	if err := s.db.MarkOutboxFailed(entry.ClientMsgID, sendErr.Error()); err != nil {
		s.logger.Error("failed to mark outbox entry failed", zap.Error(err))
		return
	}
	if entry.Kind == store.OutboxMessage {
		if err := s.db.SetMessageStatus(entry.ConversationID, entry.ClientMsgID, store.StatusFailed); err != nil {
			s.logger.Error("failed to mark message failed", zap.Error(err))
		}
		s.bus.Emit(bus.KindMessagesChanged, entry.ConversationID)
	}
	s.bus.Emit(bus.KindSendFailed, entry.ClientMsgID)
}
