package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"haven/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Appends take a per-conversation transactional advisory lock, so seq is
//     strictly monotonic without gaps and metadata updates never interleave.
//   - Find-or-create takes an advisory lock on the normalized participant key.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "haven").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("conversation: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("conversation: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "haven",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("conversation: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, SchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) table(name string) string { return pgIdent(s.schema, name) }

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func lockKey(ctx context.Context, tx pgx.Tx, key string) error {
	// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, in CreateInput) (Conversation, bool, error) {
	if len(in.Participants) < MinParticipants {
		return Conversation{}, false, ErrTooFewParticipants
	}
	now := nowOr(in.Now)

	var (
		out     Conversation
		created bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockKey(ctx, tx, "conversation-create:"+strings.Join(in.Participants, ",")); err != nil {
			return err
		}

		existing, err := s.find(ctx, tx, in.Participants)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return err
		}

		id, err := ids.NewULID(now)
		if err != nil {
			return err
		}

		var subjectType, subjectID *string
		if in.Subject != nil {
			subjectType, subjectID = &in.Subject.Type, &in.Subject.ID
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("conversations")+` (id, subject_type, subject_id, created_at, last_activity_at, active)
			 VALUES ($1, $2, $3, $4, $4, true)`,
			id, subjectType, subjectID, now,
		); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for _, p := range in.Participants {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+s.table("conversation_participants")+` (conversation_id, user_id, joined_at)
				 VALUES ($1, $2, $3)`,
				id, p, now,
			); err != nil {
				return fmt.Errorf("insert participant: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("conversation_cursors")+` (conversation_id, next_seq) VALUES ($1, 1)`,
			id,
		); err != nil {
			return fmt.Errorf("insert cursor: %w", err)
		}

		out = Conversation{
			ID:             id,
			Participants:   slices.Clone(in.Participants),
			Subject:        cloneSubject(in.Subject),
			CreatedAt:      now,
			LastActivityAt: now,
			Active:         true,
		}
		created = true
		return nil
	})
	if err != nil {
		return Conversation{}, false, err
	}
	return out, created, nil
}

func (s *PostgresStore) FindByParticipants(ctx context.Context, participants []string) (Conversation, error) {
	if len(participants) == 0 {
		return Conversation{}, ErrConversationNotFound
	}
	return s.find(ctx, s.pool, participants)
}

// find returns the smallest (then oldest) conversation whose participant set
// contains every id in want.
func (s *PostgresStore) find(ctx context.Context, q querier, want []string) (Conversation, error) {
	parts := s.table("conversation_participants")

	var id string
	err := q.QueryRow(ctx,
		`SELECT c.id
		   FROM `+s.table("conversations")+` c
		   JOIN `+parts+` p ON p.conversation_id = c.id
		  WHERE p.user_id = ANY($1)
		  GROUP BY c.id, c.created_at
		 HAVING COUNT(DISTINCT p.user_id) = $2
		  ORDER BY (SELECT COUNT(*) FROM `+parts+` q WHERE q.conversation_id = c.id) ASC,
		           c.created_at ASC, c.id ASC
		  LIMIT 1`,
		want, len(want),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return s.load(ctx, q, id)
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	return s.load(ctx, s.pool, conversationID)
}

func (s *PostgresStore) load(ctx context.Context, q querier, conversationID string) (Conversation, error) {
	c, err := scanConversation(q.QueryRow(ctx,
		`SELECT id, subject_type, subject_id, created_at, last_activity_at, active
		   FROM `+s.table("conversations")+`
		  WHERE id = $1`,
		conversationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	byID := map[string]*Conversation{c.ID: &c}
	if err := s.loadParticipants(ctx, q, byID); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func scanConversation(row scanner) (Conversation, error) {
	var (
		c                      Conversation
		subjectType, subjectID *string
	)
	if err := row.Scan(&c.ID, &subjectType, &subjectID, &c.CreatedAt, &c.LastActivityAt, &c.Active); err != nil {
		return Conversation{}, err
	}
	if subjectType != nil && subjectID != nil {
		c.Subject = &SubjectRef{Type: *subjectType, ID: *subjectID}
	}
	return c, nil
}

func (s *PostgresStore) loadParticipants(ctx context.Context, q querier, byID map[string]*Conversation) error {
	if len(byID) == 0 {
		return nil
	}
	convIDs := make([]string, 0, len(byID))
	for id := range byID {
		convIDs = append(convIDs, id)
	}

	rows, err := q.Query(ctx,
		`SELECT conversation_id, user_id, hidden_at IS NOT NULL, muted
		   FROM `+s.table("conversation_participants")+`
		  WHERE conversation_id = ANY($1)
		  ORDER BY conversation_id, user_id`,
		convIDs,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			convID, userID string
			hidden, muted  bool
		)
		if err := rows.Scan(&convID, &userID, &hidden, &muted); err != nil {
			return err
		}
		c := byID[convID]
		if c == nil {
			continue
		}
		c.Participants = append(c.Participants, userID)
		if hidden {
			c.HiddenFor = append(c.HiddenFor, userID)
		}
		if muted {
			c.MutedFor = append(c.MutedFor, userID)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]StoredSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.subject_type, c.subject_id, c.created_at, c.last_activity_at, c.active
		   FROM `+s.table("conversations")+` c
		   JOIN `+s.table("conversation_participants")+` p ON p.conversation_id = c.id
		  WHERE p.user_id = $1 AND p.hidden_at IS NULL
		  ORDER BY c.last_activity_at DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	convs := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return []StoredSummary{}, nil
	}

	byID := make(map[string]*Conversation, len(convs))
	convIDs := make([]string, 0, len(convs))
	for i := range convs {
		byID[convs[i].ID] = &convs[i]
		convIDs = append(convIDs, convs[i].ID)
	}
	if err := s.loadParticipants(ctx, s.pool, byID); err != nil {
		return nil, err
	}

	unread, err := s.unreadByConversation(ctx, userID, convIDs)
	if err != nil {
		return nil, err
	}
	last, err := s.lastVisibleMessages(ctx, userID, convIDs)
	if err != nil {
		return nil, err
	}

	out := make([]StoredSummary, 0, len(convs))
	for _, c := range convs {
		sum := StoredSummary{Conversation: c, Unread: unread[c.ID]}
		if m, ok := last[c.ID]; ok {
			sum.Last = &m
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *PostgresStore) unreadByConversation(ctx context.Context, userID string, convIDs []string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT conversation_id, COUNT(*)
		   FROM `+s.table("notifications")+`
		  WHERE user_id = $1 AND NOT is_read AND conversation_id = ANY($2)
		  GROUP BY conversation_id`,
		userID, convIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int, len(convIDs))
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) lastVisibleMessages(ctx context.Context, viewerID string, convIDs []string) (map[string]MessageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (m.conversation_id) `+messageColumns+`
		   FROM `+s.table("messages")+` m
		  WHERE m.conversation_id = ANY($1)
		    AND m.deleted_at IS NULL
		    AND NOT EXISTS (
		      SELECT 1 FROM `+s.table("message_hidden")+` h
		       WHERE h.message_id = m.id AND h.user_id = $2
		    )
		  ORDER BY m.conversation_id, m.seq DESC`,
		convIDs, viewerID,
	)
	if err != nil {
		return nil, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachReceipts(ctx, s.pool, msgs); err != nil {
		return nil, err
	}

	out := make(map[string]MessageRecord, len(msgs))
	for _, m := range msgs {
		out[m.ConversationID] = m
	}
	return out, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendInput) (AppendResult, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return AppendResult{}, ErrMissingID
	}
	now := nowOr(in.Now)

	var out AppendResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		// Serialize all writes per conversation: seq without gaps, and
		// last-activity / hidden updates never interleave.
		if err := lockKey(ctx, tx, in.ConversationID); err != nil {
			return err
		}

		conv, err := s.load(ctx, tx, in.ConversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(in.SenderID) {
			return ErrNotParticipant
		}

		cursors := s.table("conversation_cursors")
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+cursors+` (conversation_id, next_seq)
			 VALUES ($1, 1)
			 ON CONFLICT (conversation_id) DO NOTHING`,
			in.ConversationID,
		); err != nil {
			return err
		}

		var seq int64
		if err := tx.QueryRow(ctx,
			`UPDATE `+cursors+`
			    SET next_seq = next_seq + 1,
			        updated_at = now()
			  WHERE conversation_id = $1
			RETURNING (next_seq - 1)`,
			in.ConversationID,
		).Scan(&seq); err != nil {
			return err
		}

		msgID, err := ids.NewULID(now)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("messages")+` (
			     id, conversation_id, seq, sender_id, body, is_encrypted, attachment, created_at
			   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			msgID, in.ConversationID, seq, in.SenderID, in.Body, in.Encrypted, nullIfEmpty(in.Attachment), now,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		recipients := conv.Recipients(in.SenderID)
		receipts := make([]Receipt, 0, len(recipients))
		notes := make([]Notification, 0, len(recipients))
		for _, r := range recipients {
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+s.table("message_recipients")+` (message_id, user_id) VALUES ($1, $2)`,
				msgID, r,
			); err != nil {
				return fmt.Errorf("insert recipient: %w", err)
			}

			nid, err := ids.NewULID(now)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+s.table("notifications")+` (id, user_id, conversation_id, message_id, is_read, created_at)
				 VALUES ($1, $2, $3, $4, false, $5)`,
				nid, r, in.ConversationID, msgID, now,
			); err != nil {
				return fmt.Errorf("insert notification: %w", err)
			}

			receipts = append(receipts, Receipt{UserID: r})
			notes = append(notes, Notification{
				ID:             nid,
				UserID:         r,
				ConversationID: in.ConversationID,
				MessageID:      msgID,
				CreatedAt:      now,
			})
		}

		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("conversation_participants")+`
			    SET hidden_at = NULL
			  WHERE conversation_id = $1 AND hidden_at IS NOT NULL`,
			in.ConversationID,
		); err != nil {
			return fmt.Errorf("unhide conversation: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("conversations")+`
			    SET last_activity_at = GREATEST(last_activity_at, $2)
			  WHERE id = $1`,
			in.ConversationID, now,
		); err != nil {
			return fmt.Errorf("bump activity: %w", err)
		}

		conv.HiddenFor = nil
		if now.After(conv.LastActivityAt) {
			conv.LastActivityAt = now
		}
		out = AppendResult{
			Message: MessageRecord{
				ID:             msgID,
				ConversationID: in.ConversationID,
				Seq:            seq,
				SenderID:       in.SenderID,
				Body:           in.Body,
				Encrypted:      in.Encrypted,
				Attachment:     in.Attachment,
				Receipts:       receipts,
				CreatedAt:      now,
			},
			Conversation:  conv,
			Notifications: notes,
		}
		return nil
	})
	if err != nil {
		return AppendResult{}, err
	}
	return out, nil
}

const messageColumns = `m.id, m.conversation_id, m.seq, m.sender_id, m.body, m.is_encrypted,
       COALESCE(m.attachment, ''), m.created_at, m.deleted_at`

func scanMessage(row scanner) (MessageRecord, error) {
	var m MessageRecord
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Seq,
		&m.SenderID,
		&m.Body,
		&m.Encrypted,
		&m.Attachment,
		&m.CreatedAt,
		&m.DeletedAt,
	)
	return m, err
}

func collectMessages(rows pgx.Rows) ([]MessageRecord, error) {
	defer rows.Close()

	out := make([]MessageRecord, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) attachReceipts(ctx context.Context, q querier, msgs []MessageRecord) error {
	if len(msgs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(msgs))
	msgIDs := make([]string, 0, len(msgs))
	for i, m := range msgs {
		idx[m.ID] = i
		msgIDs = append(msgIDs, m.ID)
	}

	rows, err := q.Query(ctx,
		`SELECT message_id, user_id, read_at
		   FROM `+s.table("message_recipients")+`
		  WHERE message_id = ANY($1)
		  ORDER BY message_id, user_id`,
		msgIDs,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msgID string
			r     Receipt
		)
		if err := rows.Scan(&msgID, &r.UserID, &r.ReadAt); err != nil {
			return err
		}
		if i, ok := idx[msgID]; ok {
			msgs[i].Receipts = append(msgs[i].Receipts, r)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (MessageRecord, error) {
	m, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` m WHERE m.id = $1`,
		messageID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return MessageRecord{}, ErrMessageNotFound
	}
	if err != nil {
		return MessageRecord{}, err
	}
	msgs := []MessageRecord{m}
	if err := s.attachReceipts(ctx, s.pool, msgs); err != nil {
		return MessageRecord{}, err
	}
	return msgs[0], nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, in ListInput) ([]MessageRecord, bool, error) {
	if err := s.conversationExists(ctx, s.pool, in.ConversationID); err != nil {
		return nil, false, err
	}

	limit := clampLimit(in.Limit)
	var after int64
	if in.AfterSeq != nil {
		after = *in.AfterSeq
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+s.table("messages")+` m
		  WHERE m.conversation_id = $1
		    AND m.seq > $2
		    AND m.deleted_at IS NULL
		    AND NOT EXISTS (
		      SELECT 1 FROM `+s.table("message_hidden")+` h
		       WHERE h.message_id = m.id AND h.user_id = $3
		    )
		  ORDER BY m.seq ASC
		  LIMIT $4`,
		in.ConversationID, after, in.ViewerID, limit+1,
	)
	if err != nil {
		return nil, false, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if err := s.attachReceipts(ctx, s.pool, msgs); err != nil {
		return nil, false, err
	}
	return msgs, hasMore, nil
}

func (s *PostgresStore) conversationExists(ctx context.Context, q querier, conversationID string) error {
	var one int
	err := q.QueryRow(ctx,
		`SELECT 1 FROM `+s.table("conversations")+` WHERE id = $1`,
		conversationID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConversationNotFound
	}
	return err
}

func (s *PostgresStore) messageExists(ctx context.Context, q querier, messageID string) error {
	var one int
	err := q.QueryRow(ctx,
		`SELECT 1 FROM `+s.table("messages")+` WHERE id = $1`,
		messageID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMessageNotFound
	}
	return err
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string, now time.Time) (int, error) {
	now = nowOr(now)

	var changed int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.conversationExists(ctx, tx, conversationID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE `+s.table("message_recipients")+` r
			    SET read_at = $3
			   FROM `+s.table("messages")+` m
			  WHERE r.message_id = m.id
			    AND m.conversation_id = $1
			    AND r.user_id = $2
			    AND r.read_at IS NULL`,
			conversationID, userID, now,
		)
		if err != nil {
			return fmt.Errorf("mark receipts: %w", err)
		}
		changed = int(tag.RowsAffected())

		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("notifications")+`
			    SET is_read = true
			  WHERE user_id = $2 AND conversation_id = $1 AND NOT is_read`,
			conversationID, userID,
		); err != nil {
			return fmt.Errorf("mark notifications: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *PostgresStore) MarkMessageRead(ctx context.Context, messageID, userID string, now time.Time) (bool, error) {
	now = nowOr(now)

	var changed bool
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.messageExists(ctx, tx, messageID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE `+s.table("message_recipients")+`
			    SET read_at = $3
			  WHERE message_id = $1 AND user_id = $2 AND read_at IS NULL`,
			messageID, userID, now,
		)
		if err != nil {
			return fmt.Errorf("mark receipt: %w", err)
		}
		changed = tag.RowsAffected() > 0

		if _, err := tx.Exec(ctx,
			`UPDATE `+s.table("notifications")+`
			    SET is_read = true
			  WHERE user_id = $2 AND message_id = $1 AND NOT is_read`,
			messageID, userID,
		); err != nil {
			return fmt.Errorf("mark notification: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// participantUpdate runs an UPDATE on one participant row and maps a zero
// row count to not-found or not-participant.
func (s *PostgresStore) participantUpdate(ctx context.Context, q querier, conversationID string, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := s.conversationExists(ctx, q, conversationID); err != nil {
		return err
	}
	return ErrNotParticipant
}

func (s *PostgresStore) HideConversation(ctx context.Context, conversationID, userID string, clearHistory bool, now time.Time) error {
	now = nowOr(now)

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.participantUpdate(ctx, tx, conversationID,
			`UPDATE `+s.table("conversation_participants")+`
			    SET hidden_at = $3
			  WHERE conversation_id = $1 AND user_id = $2`,
			conversationID, userID, now,
		); err != nil {
			return err
		}
		if !clearHistory {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("message_hidden")+` (message_id, user_id, hidden_at)
			 SELECT id, $2, $3 FROM `+s.table("messages")+` WHERE conversation_id = $1
			 ON CONFLICT (message_id, user_id) DO NOTHING`,
			conversationID, userID, now,
		); err != nil {
			return fmt.Errorf("hide history: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) HideMessage(ctx context.Context, messageID, userID string, now time.Time) error {
	now = nowOr(now)

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.messageExists(ctx, tx, messageID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO `+s.table("message_hidden")+` (message_id, user_id, hidden_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (message_id, user_id) DO NOTHING`,
			messageID, userID, now,
		)
		return err
	})
}

func (s *PostgresStore) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return s.participantUpdate(ctx, s.pool, conversationID,
		`UPDATE `+s.table("conversation_participants")+`
		    SET muted = $3
		  WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, muted,
	)
}

func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, messageID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("messages")+`
		    SET deleted_at = COALESCE(deleted_at, $2)
		  WHERE id = $1`,
		messageID, nowOr(now),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		   FROM `+s.table("notifications")+`
		  WHERE user_id = $1 AND NOT is_read
		    AND ($2 = '' OR conversation_id = $2)`,
		userID, conversationID,
	).Scan(&n)
	return n, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
