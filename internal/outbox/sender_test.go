package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/store"
)

type fakeClient struct {
	mu       sync.Mutex
	posted   []backend.OutgoingMessage
	votes    []string
	postErr  error
	response *backend.Message
}

func (f *fakeClient) FetchConversations(context.Context) ([]backend.Conversation, error) {
	return nil, nil
}

func (f *fakeClient) FetchMessages(context.Context, string) ([]backend.Message, error) {
	return nil, nil
}

func (f *fakeClient) PostMessage(_ context.Context, _ string, out backend.OutgoingMessage) (*backend.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posted = append(f.posted, out)
	return f.response, nil
}

func (f *fakeClient) PostVote(_ context.Context, pollID, _ string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.votes = append(f.votes, pollID)
	return nil
}

func (f *fakeClient) StoreFile(context.Context, backend.FileHandle) (string, error) {
	return "", nil
}

func (f *fakeClient) RegisterEventHandler(func(backend.Event)) {}
func (f *fakeClient) Connect(context.Context) error            { return nil }
func (f *fakeClient) Close() error                             { return nil }

func testSender(t *testing.T, client *fakeClient) (*Sender, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSender(db, bus.New(), client, zap.NewNop()), db
}

func queuePending(t *testing.T, db *store.DB, msgID, body string) {
	t.Helper()
	m := store.Message{
		ConversationID: "c1", MsgID: msgID, AuthorID: "me",
		Body: body, Kind: store.KindText, Status: store.StatusPending, Timestamp: 1000,
	}
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueMessage(msgID, "c1", body); err != nil {
		t.Fatal(err)
	}
}

func TestDrainDeliversMessage(t *testing.T) {
	client := &fakeClient{response: &backend.Message{ID: "srv-1", Timestamp: 2000}}
	s, db := testSender(t, client)
	queuePending(t, db, "local-1", "hello")

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(client.posted) != 1 || client.posted[0].ClientMsgID != "local-1" {
		t.Fatalf("posted = %+v, want one message local-1", client.posted)
	}

	msgs, _ := db.ListMessages("c1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1 (canonical swap, no duplicate)", len(msgs))
	}
	if msgs[0].MsgID != "srv-1" || msgs[0].Status != store.StatusSent {
		t.Errorf("message = %+v, want srv-1 sent", msgs[0])
	}

	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestDrainWithoutCanonicalResponse(t *testing.T) {
	client := &fakeClient{}
	s, db := testSender(t, client)
	queuePending(t, db, "local-1", "hello")

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1")
	if msgs[0].MsgID != "local-1" || msgs[0].Status != store.StatusSent {
		t.Errorf("message = %+v, want local id kept and marked sent", msgs[0])
	}
}

func TestDrainFailureSettlesMessage(t *testing.T) {
	client := &fakeClient{postErr: errors.New("backend unreachable")}
	s, db := testSender(t, client)
	queuePending(t, db, "local-1", "hello")

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1")
	if msgs[0].Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", msgs[0].Status)
	}

	// Failed entries never go back to queued.
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 (no automatic retry)", len(pending))
	}
}

func TestDrainFailedEntryNotRetried(t *testing.T) {
	client := &fakeClient{postErr: errors.New("backend unreachable")}
	s, db := testSender(t, client)
	queuePending(t, db, "local-1", "hello")

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	client.mu.Lock()
	client.postErr = nil
	client.mu.Unlock()

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(client.posted) != 0 {
		t.Errorf("posted = %d, want 0 (failed entry must stay failed)", len(client.posted))
	}
}

func TestDrainDeliversVote(t *testing.T) {
	client := &fakeClient{}
	s, db := testSender(t, client)

	if err := db.QueueVote("vote-1", "p1", "me", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(client.votes) != 1 || client.votes[0] != "p1" {
		t.Errorf("votes = %v, want [p1]", client.votes)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestDrainCarriesPollOptions(t *testing.T) {
	client := &fakeClient{}
	s, db := testSender(t, client)

	p := store.Poll{ID: "p1", MessageID: "local-1", Options: []store.PollOption{{Index: 0, Text: "Mon"}, {Index: 1, Text: "Wed"}}}
	host := store.Message{ConversationID: "c1", MsgID: "local-1", AuthorID: "me", Body: "Rehearsal day?", Status: store.StatusPending, Timestamp: 1000}
	if err := db.CreatePoll(&p, &host); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueMessage("local-1", "c1", "Rehearsal day?"); err != nil {
		t.Fatal(err)
	}

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(client.posted) != 1 {
		t.Fatalf("posted = %d, want 1", len(client.posted))
	}
	out := client.posted[0]
	if out.PollID != "p1" || len(out.PollOptions) != 2 {
		t.Errorf("outgoing = %+v, want poll p1 with 2 options", out)
	}
}

func TestDrainOrderOldestFirst(t *testing.T) {
	client := &fakeClient{}
	s, db := testSender(t, client)
	queuePending(t, db, "local-1", "first")
	queuePending(t, db, "local-2", "second")

	if err := s.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(client.posted) != 2 || client.posted[0].ClientMsgID != "local-1" {
		t.Errorf("posted = %+v, want local-1 before local-2", client.posted)
	}
}
