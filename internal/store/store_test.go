package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertAndOrdering(t *testing.T) {
	db := testDB(t)

	convs := []Conversation{
		{ID: "c-violin", Name: "Violin Ensemble", LastActivityAt: 1000},
		{ID: "c-piano", Name: "Piano Juniors", LastActivityAt: 3000},
		{ID: "c-brass", Name: "Brass Section", LastActivityAt: 3000},
	}
	for i := range convs {
		if err := db.UpsertConversation(&convs[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Most recent first; equal timestamps tie-break by id ascending.
	wantOrder := []string{"c-brass", "c-piano", "c-violin"}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestConversationActivityNeverRegresses(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{ID: "c1", LastActivityAt: 5000, LastPreview: "newer"}); err != nil {
		t.Fatal(err)
	}
	// A late-arriving history upsert must not move the conversation back.
	if err := db.UpsertConversation(&Conversation{ID: "c1", LastActivityAt: 1000, LastPreview: "older"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastActivityAt != 5000 {
		t.Errorf("LastActivityAt = %d, want 5000", c.LastActivityAt)
	}
	if c.LastPreview != "newer" {
		t.Errorf("LastPreview = %q, want newer", c.LastPreview)
	}
}

func TestMessageOrderingInvariant(t *testing.T) {
	db := testDB(t)

	// Insert out of order, including a timestamp tie.
	msgs := []Message{
		{ConversationID: "c1", MsgID: "m-c", AuthorID: "u1", Body: "third", Kind: KindText, Status: StatusReceived, Timestamp: 3000},
		{ConversationID: "c1", MsgID: "m-b", AuthorID: "u1", Body: "tie-b", Kind: KindText, Status: StatusReceived, Timestamp: 2000},
		{ConversationID: "c1", MsgID: "m-a", AuthorID: "u2", Body: "tie-a", Kind: KindText, Status: StatusReceived, Timestamp: 2000},
	}
	for i := range msgs {
		if err := db.UpsertMessage(&msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		if cur.Timestamp < prev.Timestamp ||
			(cur.Timestamp == prev.Timestamp && cur.MsgID < prev.MsgID) {
			t.Errorf("sequence not ordered at %d: (%d,%s) before (%d,%s)",
				i, prev.Timestamp, prev.MsgID, cur.Timestamp, cur.MsgID)
		}
	}
	if got[0].MsgID != "m-a" || got[1].MsgID != "m-b" {
		t.Errorf("tie-break order = %s,%s want m-a,m-b", got[0].MsgID, got[1].MsgID)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := Message{ConversationID: "c1", MsgID: "m1", AuthorID: "u1", Body: "hi", Kind: KindText, Status: StatusPending, Timestamp: 1000}
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}
	m.Status = StatusSent
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (upsert must not duplicate)", len(got))
	}
	if got[0].Status != StatusSent {
		t.Errorf("status = %s, want sent", got[0].Status)
	}
}

func TestFindPendingByFingerprintAndReplace(t *testing.T) {
	db := testDB(t)

	local := Message{ConversationID: "c1", MsgID: "local-1", AuthorID: "u1", Body: "hello", Kind: KindText, Status: StatusPending, Timestamp: 10_000}
	if err := db.UpsertMessage(&local); err != nil {
		t.Fatal(err)
	}

	found, err := db.FindPendingByFingerprint("c1", "u1", "hello", 12_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.MsgID != "local-1" {
		t.Fatalf("fingerprint lookup = %+v, want local-1", found)
	}

	// Outside the bucket: no match.
	miss, err := db.FindPendingByFingerprint("c1", "u1", "hello", 200_000, 60_000)
	if err != nil {
		t.Fatal(err)
	}
	if miss != nil {
		t.Errorf("expected no match outside timestamp bucket, got %+v", miss)
	}

	canonical := Message{ConversationID: "c1", MsgID: "srv-9", AuthorID: "u1", Body: "hello", Kind: KindText, Status: StatusSent, Timestamp: 12_000}
	if err := db.ReplaceMessage("c1", "local-1", &canonical); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (no duplicate after reconciliation)", len(got))
	}
	if got[0].MsgID != "srv-9" {
		t.Errorf("msg_id = %s, want srv-9", got[0].MsgID)
	}
}

func TestCreateAndGetPoll(t *testing.T) {
	db := testDB(t)

	p := Poll{
		ID:        "p1",
		MessageID: "m1",
		Options: []PollOption{
			{Index: 0, Text: "Tuesday"},
			{Index: 1, Text: "Thursday"},
		},
	}
	msg := Message{ConversationID: "c1", MsgID: "m1", AuthorID: "u1", Body: "Recital day?", Status: StatusPending, Timestamp: 1000}
	if err := db.CreatePoll(&p, &msg); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetPoll("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("poll not found")
	}
	if len(got.Options) != 2 {
		t.Fatalf("options = %d, want 2", len(got.Options))
	}
	for _, opt := range got.Options {
		if opt.Tally != 0 {
			t.Errorf("option %d tally = %d, want 0", opt.Index, opt.Tally)
		}
	}

	msgs, err := db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Kind != KindPoll || msgs[0].PollID != "p1" {
		t.Errorf("hosting message = %+v, want kind=poll poll_id=p1", msgs)
	}
}

func TestRecordVoteAtomicPairing(t *testing.T) {
	db := testDB(t)

	p := Poll{ID: "p1", MessageID: "m1", Options: []PollOption{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}}
	if err := db.CreatePoll(&p, &Message{ConversationID: "c1", MsgID: "m1", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	voters := []string{"u1", "u2", "u3"}
	for i, v := range voters {
		applied, err := db.RecordVote("p1", v, i%2)
		if err != nil {
			t.Fatal(err)
		}
		if !applied {
			t.Errorf("vote by %s should apply", v)
		}

		// Invariant: sum(tally) == len(voter set) after every vote.
		got, err := db.GetPoll("p1")
		if err != nil {
			t.Fatal(err)
		}
		sum := 0
		for _, opt := range got.Options {
			sum += opt.Tally
		}
		if sum != len(got.Voters) {
			t.Fatalf("after %d votes: sum(tally)=%d, voters=%d", i+1, sum, len(got.Voters))
		}
	}
}

func TestRecordVoteIdempotent(t *testing.T) {
	db := testDB(t)

	p := Poll{ID: "p1", MessageID: "m1", Options: []PollOption{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}}
	if err := db.CreatePoll(&p, &Message{ConversationID: "c1", MsgID: "m1", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	if _, err := db.RecordVote("p1", "u1", 0); err != nil {
		t.Fatal(err)
	}
	applied, err := db.RecordVote("p1", "u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("second vote by same voter should not apply")
	}

	got, err := db.GetPoll("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Options[0].Tally != 1 || got.Options[1].Tally != 0 {
		t.Errorf("tallies = %d,%d want 1,0", got.Options[0].Tally, got.Options[1].Tally)
	}
}

func TestRecordVoteRejectsClosedPoll(t *testing.T) {
	db := testDB(t)

	p := Poll{ID: "p1", MessageID: "m1", Options: []PollOption{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}}
	if err := db.CreatePoll(&p, &Message{ConversationID: "c1", MsgID: "m1", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.ClosePoll("p1"); err != nil {
		t.Fatal(err)
	}

	// Even a caller holding a stale open snapshot loses to the closure:
	// the flag is rechecked inside the vote transaction.
	applied, err := db.RecordVote("p1", "u1", 0)
	if !errors.Is(err, ErrPollClosed) {
		t.Fatalf("err = %v, want ErrPollClosed", err)
	}
	if applied {
		t.Error("vote on a closed poll must not apply")
	}

	got, err := db.GetPoll("p1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Options[0].Tally != 0 || len(got.Voters) != 0 {
		t.Errorf("tally=%d voters=%d, want 0,0", got.Options[0].Tally, len(got.Voters))
	}
}

func TestAttachmentLifecycle(t *testing.T) {
	db := testDB(t)

	a := Attachment{ID: "a1", MessageID: "m1", MimeType: "application/pdf", Filename: "score.pdf", SizeBytes: 1024, Status: UploadUploading}
	if err := db.InsertAttachment(&a); err != nil {
		t.Fatal(err)
	}

	if err := db.SettleAttachment("a1", UploadReady, "files/score-7f3a.pdf"); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAttachment("a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != UploadReady || got.StorageRef != "files/score-7f3a.pdf" {
		t.Errorf("attachment = %+v, want ready with ref", got)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	if err := db.QueueMessage("cm-1", "c1", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueVote("cv-1", "p1", "u1", 1); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Kind != OutboxMessage || pending[1].Kind != OutboxVote {
		t.Errorf("kinds = %s,%s want message,vote", pending[0].Kind, pending[1].Kind)
	}

	if err := db.MarkOutboxSent("cm-1", "srv-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("cv-1", "network down"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after settle = %d, want 0", len(pending))
	}
}

func TestListMessagesManyKeepOrder(t *testing.T) {
	db := testDB(t)

	for i := 0; i < 50; i++ {
		m := Message{
			ConversationID: "c1",
			MsgID:          fmt.Sprintf("m-%02d", 49-i),
			Body:           "x",
			Kind:           KindText,
			Status:         StatusReceived,
			Timestamp:      int64(1000 * (49 - i)),
		}
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ListMessages("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("timestamps regress at %d", i)
		}
	}
}
