// ABOUTME: SQLite implementation of the Directory interface using modernc.org/sqlite
// ABOUTME: Persists conversations, participants, messages, bot profiles, and contacts

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so lexical order in SQLite matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Directory using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Directory = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single writer keeps the PRAGMAs below on the one live connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			is_group INTEGER NOT NULL DEFAULT 0,
			name TEXT,
			admin_id TEXT,
			pair_key TEXT,
			last_message_id TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair_key
			ON conversations(pair_key);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			joined_at TEXT NOT NULL,
			PRIMARY KEY (conversation_id, identity),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_participants_identity
			ON conversation_participants(identity);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			sender_kind TEXT NOT NULL CHECK (sender_kind IN ('human', 'bot')),
			conversation_id TEXT,
			receiver_id TEXT,
			text TEXT NOT NULL DEFAULT '',
			attachment TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			CHECK ((conversation_id IS NULL) != (receiver_id IS NULL)),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_messages_direct
			ON messages(sender_id, receiver_id, created_at);

		CREATE TABLE IF NOT EXISTS bot_profiles (
			id TEXT PRIMARY KEY,
			owner_id TEXT,
			name TEXT NOT NULL,
			model TEXT NOT NULL,
			encrypted_key TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bot_profiles_owner
			ON bot_profiles(owner_id);

		CREATE TABLE IF NOT EXISTS contacts (
			identity TEXT NOT NULL,
			contact TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (identity, contact)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive schema changes to databases created by
// earlier builds. Each migration is guarded by a check query.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check string
		apply string
		name  string
	}{
		{
			check: `SELECT 1 FROM pragma_table_info('messages') WHERE name = 'attachment'`,
			apply: `ALTER TABLE messages ADD COLUMN attachment TEXT NOT NULL DEFAULT ''`,
			name:  "messages.attachment",
		},
		{
			check: `SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = 'idx_bot_profiles_single_default'`,
			apply: `CREATE UNIQUE INDEX idx_bot_profiles_single_default ON bot_profiles(is_default) WHERE is_default = 1`,
			name:  "bot_profiles single default",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking migration %s: %w", m.name, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		s.logger.Info("applied migration", "migration", m.name)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// FindConversationsByParticipant returns every conversation identity belongs to,
// most recently updated first.
func (s *SQLiteStore) FindConversationsByParticipant(ctx context.Context, identity string) ([]*Conversation, error) {
	query := `
		SELECT c.id, c.is_group, c.name, c.admin_id, c.last_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.identity = ?
		ORDER BY c.updated_at DESC, c.rowid DESC
	`
	rows, err := s.db.QueryContext(ctx, query, identity)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	rows.Close()

	for _, conv := range convs {
		if conv.Participants, err = s.participants(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// FindConversationByExactParticipants returns the direct conversation between
// exactly the given two identities. Returns ErrNotFound otherwise.
func (s *SQLiteStore) FindConversationByExactParticipants(ctx context.Context, participants []string) (*Conversation, error) {
	ids := normalizeParticipants(participants)
	if len(ids) != 2 {
		return nil, ErrNotFound
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE pair_key = ? AND is_group = 0`,
		pairKey(ids[0], ids[1]),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by participants: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation with its participants.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, is_group, name, admin_id, last_message_id, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if conv.Participants, err = s.participants(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

// CreateConversation inserts a conversation and its participants in one
// transaction. Direct conversations are unique per pair; a second one for
// the same pair returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	conv.Participants = normalizeParticipants(conv.Participants)
	if len(conv.Participants) < 2 {
		return fmt.Errorf("conversation needs at least 2 participants")
	}
	if !conv.IsGroup && len(conv.Participants) != 2 {
		return fmt.Errorf("direct conversation needs exactly 2 participants")
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	var key any
	if !conv.IsGroup {
		key = pairKey(conv.Participants[0], conv.Participants[1])
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, name, admin_id, pair_key, last_message_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.IsGroup,
		nullString(conv.Name),
		nullString(conv.AdminID),
		key,
		nullString(conv.LastMessageID),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, identity := range conv.Participants {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, identity, joined_at) VALUES (?, ?, ?)`,
			conv.ID, identity, formatTime(conv.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}
	return nil
}

// AddParticipant adds identity to a conversation. Adding an existing
// member is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, identity string) error {
	if err := s.conversationExists(ctx, conversationID); err != nil {
		return err
	}
	now := formatTime(time.Now().UTC())
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_participants (conversation_id, identity, joined_at)
		VALUES (?, ?, ?)
	`, conversationID, identity, now)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return s.touch(ctx, conversationID)
}

// RemoveParticipant removes identity from a conversation.
// Returns ErrNotFound if identity was not a member.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, conversationID, identity string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = ? AND identity = ?`,
		conversationID, identity,
	)
	if err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return s.touch(ctx, conversationID)
}

// RenameConversation sets the display name of a conversation.
func (s *SQLiteStore) RenameConversation(ctx context.Context, conversationID, name string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET name = ?, updated_at = ? WHERE id = ?`,
		nullString(name), formatTime(time.Now().UTC()), conversationID,
	)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	return requireAffected(result)
}

// SetLastMessage records the most recent message of a conversation.
func (s *SQLiteStore) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?`,
		messageID, formatTime(time.Now().UTC()), conversationID,
	)
	if err != nil {
		return fmt.Errorf("setting last message: %w", err)
	}
	return requireAffected(result)
}

// AppendMessage persists a message. ID and CreatedAt are filled in if unset.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, sender_kind, conversation_id, receiver_id, text, attachment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SenderID,
		string(msg.SenderKind),
		nullString(msg.ConversationID),
		nullString(msg.ReceiverID),
		msg.Text,
		msg.Attachment,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// FindMessages returns all messages of a conversation in chronological order.
func (s *SQLiteStore) FindMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, sender_kind, conversation_id, receiver_id, text, attachment, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return scanMessages(rows)
}

// FindDirectMessages returns messages exchanged directly between a and b.
// A positive limit keeps only the most recent messages. Results are
// chronological unless newestFirst is set.
func (s *SQLiteStore) FindDirectMessages(ctx context.Context, a, b string, limit int, newestFirst bool) ([]*Message, error) {
	query := `
		SELECT id, sender_id, sender_kind, conversation_id, receiver_id, text, attachment, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{a, b, b, a}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying direct messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if !newestFirst {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

// CreateBotProfile stores a bot profile. Only one default profile may exist.
func (s *SQLiteStore) CreateBotProfile(ctx context.Context, bot *BotProfile) error {
	if bot.ID == "" {
		bot.ID = uuid.New().String()
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_profiles (id, owner_id, name, model, encrypted_key, is_default, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		bot.ID,
		nullString(bot.OwnerID),
		bot.Name,
		bot.Model,
		bot.EncryptedKey,
		bot.IsDefault,
		formatTime(bot.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("bot profile conflicts with an existing one: %w", err)
		}
		return fmt.Errorf("inserting bot profile: %w", err)
	}
	return nil
}

// GetBotProfile retrieves a bot profile by ID.
func (s *SQLiteStore) GetBotProfile(ctx context.Context, id string) (*BotProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, model, encrypted_key, is_default, created_at
		FROM bot_profiles WHERE id = ?
	`, id)
	bot, err := scanBotProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return bot, err
}

// FindDefaultBotProfile retrieves the platform default bot.
func (s *SQLiteStore) FindDefaultBotProfile(ctx context.Context) (*BotProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, model, encrypted_key, is_default, created_at
		FROM bot_profiles WHERE is_default = 1
	`)
	bot, err := scanBotProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return bot, err
}

// ListBotProfiles returns the default bot followed by ownerID's bots.
func (s *SQLiteStore) ListBotProfiles(ctx context.Context, ownerID string) ([]*BotProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, model, encrypted_key, is_default, created_at
		FROM bot_profiles
		WHERE is_default = 1 OR owner_id = ?
		ORDER BY is_default DESC, created_at ASC, rowid ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying bot profiles: %w", err)
	}
	defer rows.Close()

	var bots []*BotProfile
	for rows.Next() {
		bot, err := scanBotProfile(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bot profile rows: %w", err)
	}
	return bots, nil
}

// DeleteBotProfile deletes a non-default bot owned by ownerID.
// Returns ErrNotFound if no such bot exists.
func (s *SQLiteStore) DeleteBotProfile(ctx context.Context, id, ownerID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM bot_profiles WHERE id = ? AND owner_id = ? AND is_default = 0`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting bot profile: %w", err)
	}
	return requireAffected(result)
}

// AddContact records a mutual contact relationship between a and b.
func (s *SQLiteStore) AddContact(ctx context.Context, a, b string) error {
	now := formatTime(time.Now().UTC())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO contacts (identity, contact, created_at) VALUES (?, ?, ?)`,
			pair[0], pair[1], now,
		); err != nil {
			return fmt.Errorf("inserting contact: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing contact: %w", err)
	}
	return nil
}

// AreContacts reports whether b is in a's contact list.
func (s *SQLiteStore) AreContacts(ctx context.Context, a, b string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM contacts WHERE identity = ? AND contact = ?`, a, b,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying contacts: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) participants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) conversationExists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("updating conversation timestamp: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var name, adminID, lastID sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&conv.ID, &conv.IsGroup, &name, &adminID, &lastID, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	conv.Name = name.String
	conv.AdminID = adminID.String
	conv.LastMessageID = lastID.String

	var err error
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var kind, createdAt string
		var convID, receiverID sql.NullString

		if err := rows.Scan(&msg.ID, &msg.SenderID, &kind, &convID, &receiverID, &msg.Text, &msg.Attachment, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.SenderKind = SenderKind(kind)
		msg.ConversationID = convID.String
		msg.ReceiverID = receiverID.String

		var err error
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

func scanBotProfile(row scanner) (*BotProfile, error) {
	var bot BotProfile
	var ownerID sql.NullString
	var createdAt string

	if err := row.Scan(&bot.ID, &ownerID, &bot.Name, &bot.Model, &bot.EncryptedKey, &bot.IsDefault, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning bot profile: %w", err)
	}
	bot.OwnerID = ownerID.String

	var err error
	if bot.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing bot created_at: %w", err)
	}
	return &bot, nil
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings so the column stores NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
