// Package chat is the single write path over the conversation projection.
// All mutations (sends, polls, votes, attachments) go through Service, which
// serializes writes per conversation and publishes change events on the bus.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/poll"
	"github.com/cadenzahq/cadenza/internal/store"
	"github.com/cadenzahq/cadenza/internal/upload"
)

// Service is the authoritative projection of conversations and their
// messages for one session.
type Service struct {
	db       *store.DB
	bus      *bus.Bus
	uploader *upload.Uploader
	logger   *zap.Logger
	userID   string

	locks keyedMutex
}

// NewService creates the conversation service. userID identifies the local
// session participant; it authors optimistic messages and votes.
func NewService(db *store.DB, b *bus.Bus, uploader *upload.Uploader, userID string, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		bus:      b,
		uploader: uploader,
		logger:   logger,
		userID:   userID,
	}
}

// UserID returns the local participant identifier.
func (s *Service) UserID() string { return s.userID }

// Bus returns the event bus the service publishes change events on.
func (s *Service) Bus() *bus.Bus { return s.bus }

// ListConversations returns the last-synchronized conversation snapshot,
// ordered by last activity descending with id tie-break. Never blocks on the
// backend.
func (s *Service) ListConversations() ([]store.Conversation, error) {
	return s.db.ListConversations()
}

// LoadMessages returns the ordered message sequence for a conversation.
func (s *Service) LoadMessages(conversationID string) ([]store.Message, error) {
	conv, err := s.db.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	return s.db.ListMessages(conversationID)
}

// GetPoll returns a poll snapshot with options, tallies and voter set.
func (s *Service) GetPoll(pollID string) (*store.Poll, error) {
	p, err := s.db.GetPoll(pollID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("poll %q: %w", pollID, ErrNotFound)
	}
	return p, nil
}

// GetAttachment returns an attachment snapshot.
func (s *Service) GetAttachment(id string) (*store.Attachment, error) {
	a, err := s.db.GetAttachment(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("attachment %q: %w", id, ErrNotFound)
	}
	return a, nil
}

// SendMessage appends an optimistic pending message and queues it for
// delivery. Returns the client message id immediately; the status moves to
// sent or failed when the outbox settles. Failed messages stay visible and
// are retried only by resubmission.
func (s *Service) SendMessage(conversationID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty message text: %w", ErrInvalidInput)
	}
	if err := s.requireConversation(conversationID); err != nil {
		return "", err
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	msgID := uuid.New().String()
	now := time.Now().UnixMilli()
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          msgID,
		AuthorID:       s.userID,
		Body:           text,
		Kind:           store.KindText,
		Status:         store.StatusPending,
		Timestamp:      now,
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		return "", fmt.Errorf("insert pending message: %w", err)
	}
	if err := s.db.QueueMessage(msgID, conversationID, text); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	s.touchConversation(conversationID, now, text)
	s.bus.Emit(bus.KindMessagesChanged, conversationID)
	return msgID, nil
}

// CreatePoll creates a poll message with zero tallies. Options are
// validated before any state changes.
func (s *Service) CreatePoll(conversationID, question string, options []string) (string, error) {
	if err := poll.ValidateOptions(options); err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrInvalidInput)
	}
	if err := s.requireConversation(conversationID); err != nil {
		return "", err
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	msgID := uuid.New().String()
	pollID := uuid.New().String()
	now := time.Now().UnixMilli()

	p := &store.Poll{ID: pollID, MessageID: msgID}
	for i, text := range options {
		p.Options = append(p.Options, store.PollOption{Index: i, Text: text})
	}
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          msgID,
		AuthorID:       s.userID,
		Body:           question,
		Status:         store.StatusPending,
		Timestamp:      now,
	}
	if err := s.db.CreatePoll(p, msg); err != nil {
		return "", fmt.Errorf("create poll: %w", err)
	}
	if err := s.db.QueueMessage(msgID, conversationID, question); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}
	s.touchConversation(conversationID, now, question)
	s.bus.Emit(bus.KindMessagesChanged, conversationID)
	return pollID, nil
}

// VoteOnPoll records one vote. The tally increment and the voter-set entry
// are applied atomically; inadmissible votes are rejected synchronously
// without mutating state.
func (s *Service) VoteOnPoll(pollID, voterID string, optionIndex int) error {
	p, err := s.db.GetPoll(pollID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("poll %q: %w", pollID, ErrNotFound)
	}
	conversationID, err := s.db.ConversationForPoll(pollID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(conversationID)
	defer unlock()

	if err := poll.CheckVote(p, voterID, optionIndex); err != nil {
		return err
	}
	applied, err := s.db.RecordVote(pollID, voterID, optionIndex)
	if errors.Is(err, store.ErrPollClosed) {
		// Closed between the snapshot read and the commit.
		return ErrPollClosed
	}
	if err != nil {
		return fmt.Errorf("record vote: %w", err)
	}
	if !applied {
		// Lost a race with an ingested remote vote by the same voter.
		return ErrAlreadyVoted
	}

	// Local votes travel through the outbox like messages do.
	if voterID == s.userID {
		if err := s.db.QueueVote(uuid.New().String(), pollID, voterID, optionIndex); err != nil {
			return fmt.Errorf("queue vote: %w", err)
		}
	}
	s.bus.Emit(bus.KindPollChanged, pollID)
	return nil
}

// ClosePoll closes a poll by explicit action. Closed polls reject votes and
// are never mutated again.
func (s *Service) ClosePoll(pollID string) error {
	p, err := s.db.GetPoll(pollID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("poll %q: %w", pollID, ErrNotFound)
	}
	if err := s.db.ClosePoll(pollID); err != nil {
		return err
	}
	s.bus.Emit(bus.KindPollChanged, pollID)
	return nil
}

// AttachFile creates an attachment message in uploading status and starts
// the upload. The message is queued for delivery only once the upload
// settles ready; on failure the message flips to failed and stays visible.
func (s *Service) AttachFile(ctx context.Context, conversationID string, fh backend.FileHandle) (string, error) {
	if err := s.requireConversation(conversationID); err != nil {
		return "", err
	}

	unlock := s.locks.lock(conversationID)

	msgID := uuid.New().String()
	now := time.Now().UnixMilli()
	attempt := s.uploader.Upload(ctx, fh)

	att := &store.Attachment{
		ID:        attempt.ID,
		MessageID: msgID,
		MimeType:  fh.MimeType,
		Filename:  fh.Name,
		SizeBytes: fh.Size,
		Status:    store.UploadUploading,
	}
	msg := &store.Message{
		ConversationID: conversationID,
		MsgID:          msgID,
		AuthorID:       s.userID,
		Body:           fh.Name,
		Kind:           store.KindAttachment,
		AttachmentID:   attempt.ID,
		Status:         store.StatusPending,
		Timestamp:      now,
	}
	if err := s.db.InsertAttachment(att); err != nil {
		unlock()
		return "", fmt.Errorf("insert attachment: %w", err)
	}
	if err := s.db.UpsertMessage(msg); err != nil {
		unlock()
		return "", fmt.Errorf("insert attachment message: %w", err)
	}
	s.touchConversation(conversationID, now, fh.Name)
	unlock()
	s.bus.Emit(bus.KindMessagesChanged, conversationID)

	go s.settleAttachment(conversationID, msgID, attempt)
	return msgID, nil
}

func (s *Service) settleAttachment(conversationID, msgID string, attempt *upload.Attempt) {
	<-attempt.Done()
	ref, err, _ := attempt.Result()

	unlock := s.locks.lock(conversationID)
	defer unlock()

	if err != nil {
		if dbErr := s.db.SettleAttachment(attempt.ID, store.UploadFailed, ""); dbErr != nil {
			s.logger.Error("settle attachment failed", zap.Error(dbErr), zap.String("attachment_id", attempt.ID))
		}
		if dbErr := s.db.SetMessageStatus(conversationID, msgID, store.StatusFailed); dbErr != nil {
			s.logger.Error("mark attachment message failed", zap.Error(dbErr), zap.String("msg_id", msgID))
		}
		s.logger.Warn("attachment upload failed",
			zap.String("msg_id", msgID), zap.Error(err))
		s.bus.Emit(bus.KindMessagesChanged, conversationID)
		return
	}

	if dbErr := s.db.SettleAttachment(attempt.ID, store.UploadReady, ref); dbErr != nil {
		s.logger.Error("settle attachment failed", zap.Error(dbErr), zap.String("attachment_id", attempt.ID))
		return
	}
	// Storage reference in hand; hand the message to the outbox.
	if dbErr := s.db.QueueMessage(msgID, conversationID, attempt.File.Name); dbErr != nil {
		s.logger.Error("queue attachment message", zap.Error(dbErr), zap.String("msg_id", msgID))
		return
	}
	s.bus.Emit(bus.KindMessagesChanged, conversationID)
}

// MarkRead clears the unread counter for a conversation.
func (s *Service) MarkRead(conversationID string) error {
	if err := s.db.ResetUnread(conversationID); err != nil {
		return err
	}
	s.bus.Emit(bus.KindConversationsChanged, conversationID)
	return nil
}

func (s *Service) requireConversation(id string) error {
	conv, err := s.db.GetConversation(id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Service) touchConversation(id string, ts int64, preview string) {
	err := s.db.UpsertConversation(&store.Conversation{
		ID:             id,
		LastActivityAt: ts,
		LastPreview:    truncate(preview, 100),
	})
	if err != nil {
		s.logger.Error("touch conversation", zap.Error(err), zap.String("conversation_id", id))
	}
	s.bus.Emit(bus.KindConversationsChanged, id)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	// Cutting at a byte boundary can land mid-rune; drop the partial one.
	return strings.ToValidUTF8(s[:maxLen], "")
}

// keyedMutex serializes writers per conversation while letting different
// conversations proceed concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
