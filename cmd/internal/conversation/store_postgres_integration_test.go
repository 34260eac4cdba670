package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"haven/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when HAVEN_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_CreateConversation_FindOrCreate(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	first, created, err := store.CreateConversation(ctx, CreateInput{
		Participants: []string{"alice", "bob"},
		Subject:      &SubjectRef{Type: "listing", ID: "L1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	second, created, err := store.CreateConversation(ctx, CreateInput{Participants: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing conversation %s, got created=%v id=%s", first.ID, created, second.ID)
	}
	if second.Subject == nil || second.Subject.ID != "L1" {
		t.Fatalf("expected subject, got %+v", second.Subject)
	}

	group, _, err := store.CreateConversation(ctx, CreateInput{Participants: []string{"alice", "bob", "carol"}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if group.ID == first.ID {
		t.Fatalf("group must be a new conversation")
	}

	// The exact pair wins over the containing group.
	found, err := store.FindByParticipants(ctx, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ID != first.ID {
		t.Fatalf("find returned %s want %s", found.ID, first.ID)
	}
	found, err = store.FindByParticipants(ctx, []string{"bob", "carol"})
	if err != nil || found.ID != group.ID {
		t.Fatalf("containment find: id=%s err=%v", found.ID, err)
	}
	if _, err := store.FindByParticipants(ctx, []string{"alice", "dave"}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestPostgresStore_ConcurrentCreate_SingleRow(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const n = 8
	idsCh := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := store.CreateConversation(ctx, CreateInput{Participants: []string{"x", "y"}})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			idsCh <- c.ID
		}()
	}
	wg.Wait()
	close(idsCh)

	seen := map[string]bool{}
	for id := range idsCh {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected one conversation id, got %v", seen)
	}
}

func TestPostgresStore_Append_Receipts_Unread(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conv, _, err := store.CreateConversation(ctx, CreateInput{Participants: []string{"alice", "bob", "carol"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := store.AppendMessage(ctx, AppendInput{
		ConversationID: conv.ID, SenderID: "alice", Body: "ct", Encrypted: true,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.Message.Seq != 1 || len(res.Notifications) != 2 || len(res.Message.Receipts) != 2 {
		t.Fatalf("unexpected append result: %+v", res)
	}

	if _, err := store.AppendMessage(ctx, AppendInput{
		ConversationID: conv.ID, SenderID: "mallory", Body: "x", Encrypted: true,
	}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	if n, err := store.UnreadCount(ctx, "bob", ""); err != nil || n != 1 {
		t.Fatalf("bob unread=%d err=%v", n, err)
	}
	changed, err := store.MarkConversationRead(ctx, conv.ID, "bob", time.Now().UTC())
	if err != nil || changed != 1 {
		t.Fatalf("mark read: changed=%d err=%v", changed, err)
	}
	changed, err = store.MarkConversationRead(ctx, conv.ID, "bob", time.Now().UTC())
	if err != nil || changed != 0 {
		t.Fatalf("mark read again: changed=%d err=%v", changed, err)
	}
	if n, _ := store.UnreadCount(ctx, "bob", conv.ID); n != 0 {
		t.Fatalf("bob unread after mark=%d", n)
	}
	if n, _ := store.UnreadCount(ctx, "carol", conv.ID); n != 1 {
		t.Fatalf("carol unread=%d want=1", n)
	}

	changed2, err := store.MarkMessageRead(ctx, res.Message.ID, "carol", time.Now().UTC())
	if err != nil || !changed2 {
		t.Fatalf("mark message read: changed=%v err=%v", changed2, err)
	}

	got, err := store.GetMessage(ctx, res.Message.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	for _, r := range got.Receipts {
		if r.ReadAt == nil {
			t.Fatalf("expected all receipts read, got %+v", got.Receipts)
		}
	}
}

func TestPostgresStore_HideMuteDelete(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conv, _, err := store.CreateConversation(ctx, CreateInput{Participants: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m1, err := store.AppendMessage(ctx, AppendInput{ConversationID: conv.ID, SenderID: "alice", Body: "one", Encrypted: false})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.HideConversation(ctx, conv.ID, "bob", true, time.Now().UTC()); err != nil {
		t.Fatalf("hide: %v", err)
	}
	if err := store.HideConversation(ctx, conv.ID, "mallory", false, time.Now().UTC()); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if err := store.HideConversation(ctx, "missing", "bob", false, time.Now().UTC()); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}

	bobList, err := store.ListForUser(ctx, "bob")
	if err != nil || len(bobList) != 0 {
		t.Fatalf("bob list after hide: %d err=%v", len(bobList), err)
	}

	if _, err := store.AppendMessage(ctx, AppendInput{ConversationID: conv.ID, SenderID: "alice", Body: "two", Encrypted: false}); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	bobList, err = store.ListForUser(ctx, "bob")
	if err != nil || len(bobList) != 1 {
		t.Fatalf("bob list after new message: %d err=%v", len(bobList), err)
	}
	if bobList[0].Last == nil || bobList[0].Last.Body != "two" || bobList[0].Unread != 2 {
		t.Fatalf("unexpected summary: %+v", bobList[0])
	}

	msgs, _, err := store.ListMessages(ctx, ListInput{ConversationID: conv.ID, ViewerID: "bob"})
	if err != nil || len(msgs) != 1 || msgs[0].Body != "two" {
		t.Fatalf("bob history after clear: %+v err=%v", msgs, err)
	}

	if err := store.SetMuted(ctx, conv.ID, "bob", true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	c, err := store.GetConversation(ctx, conv.ID)
	if err != nil || !c.IsMutedFor("bob") || c.IsMutedFor("alice") {
		t.Fatalf("mute state: %+v err=%v", c, err)
	}

	if err := store.SoftDeleteMessage(ctx, m1.Message.ID, time.Now().UTC()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	msgs, _, _ = store.ListMessages(ctx, ListInput{ConversationID: conv.ID, ViewerID: "alice"})
	if len(msgs) != 1 {
		t.Fatalf("alice history after delete: %d", len(msgs))
	}
	if err := store.SoftDeleteMessage(ctx, "missing", time.Now().UTC()); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestPostgresStore_ConcurrentAppend_StrictSeq_NoGaps(t *testing.T) {
	t.Parallel()

	store := mustNewTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	conv, _, err := store.CreateConversation(ctx, CreateInput{Participants: []string{"alice", "bob"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 32
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, AppendInput{
				ConversationID: conv.ID,
				SenderID:       "alice",
				Body:           fmt.Sprintf("m%d", i),
				Encrypted:      false,
			})
			if err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent append error: %v", err)
	}

	msgs, hasMore, err := store.ListMessages(ctx, ListInput{ConversationID: conv.ID, ViewerID: "bob", Limit: MaxPageLimit})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n || hasMore {
		t.Fatalf("expected %d messages, got %d hasMore=%v", n, len(msgs), hasMore)
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("seq gap at %d: got %d", i, m.Seq)
		}
	}
	if n2, _ := store.UnreadCount(ctx, "bob", conv.ID); n2 != n {
		t.Fatalf("bob unread=%d want=%d", n2, n)
	}
}

// ---- test helpers ----

func mustNewTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("HAVEN_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: HAVEN_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse HAVEN_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "haven_it_" + strings.ToLower(id[len(id)-10:])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
