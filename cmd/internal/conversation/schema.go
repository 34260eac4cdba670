package conversation

import "fmt"

// SchemaSQL returns the DDL PostgresStore expects inside schema.
func SchemaSQL(schema string) string {
	conversations := pgIdent(schema, "conversations")
	participants := pgIdent(schema, "conversation_participants")
	cursors := pgIdent(schema, "conversation_cursors")
	messages := pgIdent(schema, "messages")
	recipients := pgIdent(schema, "message_recipients")
	hidden := pgIdent(schema, "message_hidden")
	notifications := pgIdent(schema, "notifications")

	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id               TEXT PRIMARY KEY,
  subject_type     TEXT NULL,
  subject_id       TEXT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  active           BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS %[2]s (
  conversation_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  user_id         TEXT NOT NULL,
  joined_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  hidden_at       TIMESTAMPTZ NULL,
  muted           BOOLEAN NOT NULL DEFAULT false,
  PRIMARY KEY (conversation_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_conversation_participants_user
  ON %[2]s (user_id, conversation_id);

CREATE TABLE IF NOT EXISTS %[3]s (
  conversation_id TEXT PRIMARY KEY REFERENCES %[1]s(id) ON DELETE CASCADE,
  next_seq        BIGINT NOT NULL DEFAULT 1,
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[4]s (
  id              TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  seq             BIGINT NOT NULL,
  sender_id       TEXT NOT NULL,
  body            TEXT NOT NULL DEFAULT '',
  is_encrypted    BOOLEAN NOT NULL DEFAULT true,
  attachment      TEXT NULL,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  deleted_at      TIMESTAMPTZ NULL,

  CONSTRAINT uq_messages_conversation_seq UNIQUE (conversation_id, seq),
  CONSTRAINT chk_messages_content CHECK (body <> '' OR attachment IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS %[5]s (
  message_id TEXT NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
  user_id    TEXT NOT NULL,
  read_at    TIMESTAMPTZ NULL,
  PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS %[6]s (
  message_id TEXT NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
  user_id    TEXT NOT NULL,
  hidden_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS %[7]s (
  id              TEXT PRIMARY KEY,
  user_id         TEXT NOT NULL,
  conversation_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  message_id      TEXT NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
  is_read         BOOLEAN NOT NULL DEFAULT false,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_unread
  ON %[7]s (user_id, conversation_id) WHERE NOT is_read;
`, conversations, participants, cursors, messages, recipients, hidden, notifications)
}
