package conversation

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var ErrNotFound = errors.New("not found")

const messageColumns = `id, sender_id, recipient_id, friendship_id, content,
	created_at, is_read, moment_id, capsule_id, starter_id, thread_id`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.FriendshipID, &m.Content,
		&m.CreatedAt, &m.IsRead, &m.MomentID, &m.CapsuleID, &m.StarterID, &m.ThreadID)
	return m, err
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecentMessages returns up to limit most recent top-level messages of a
// conversation, newest first. Capsule messages live in their capsule and are
// excluded here.
func (r *Repository) RecentMessages(ctx context.Context, friendshipID string, limit int) ([]Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE friendship_id = $1 AND capsule_id IS NULL
		ORDER BY created_at DESC
		LIMIT $2`
	msgs, err := r.queryMessages(ctx, query, friendshipID, limit)
	return msgs, errors.Wrap(err, "conversationRepo.RecentMessages")
}

func (r *Repository) CapsuleMessages(ctx context.Context, capsuleID string) ([]Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE capsule_id = $1
		ORDER BY created_at DESC`
	msgs, err := r.queryMessages(ctx, query, capsuleID)
	return msgs, errors.Wrap(err, "conversationRepo.CapsuleMessages")
}

func (r *Repository) ThreadMessages(ctx context.Context, threadID string) ([]Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE thread_id = $1
		ORDER BY created_at DESC`
	msgs, err := r.queryMessages(ctx, query, threadID)
	return msgs, errors.Wrap(err, "conversationRepo.ThreadMessages")
}

func (r *Repository) CapsulesByActivity(ctx context.Context, friendshipID string) ([]Capsule, error) {
	query := `SELECT id, friendship_id, title, description, capsule_type, created_by,
			last_activity_at, created_at
		FROM capsules
		WHERE friendship_id = $1
		ORDER BY last_activity_at DESC`
	rows, err := r.db.QueryContext(ctx, query, friendshipID)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.CapsulesByActivity")
	}
	defer rows.Close()

	var capsules []Capsule
	for rows.Next() {
		var c Capsule
		if err := rows.Scan(&c.ID, &c.FriendshipID, &c.Title, &c.Description, &c.CapsuleType,
			&c.CreatedBy, &c.LastActivityAt, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "conversationRepo.CapsulesByActivity.Scan")
		}
		capsules = append(capsules, c)
	}
	return capsules, errors.Wrap(rows.Err(), "conversationRepo.CapsulesByActivity.Rows")
}

// CapsuleCounts derives a capsule's total and viewer-unread message counts.
func (r *Repository) CapsuleCounts(ctx context.Context, capsuleID, viewerID string) (total, unread int, err error) {
	query := `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE recipient_id = $2 AND NOT is_read)
		FROM messages
		WHERE capsule_id = $1`
	err = r.db.QueryRowContext(ctx, query, capsuleID, viewerID).Scan(&total, &unread)
	return total, unread, errors.Wrap(err, "conversationRepo.CapsuleCounts")
}

// MomentsFor returns the moments a viewer uploaded or received, newest first.
func (r *Repository) MomentsFor(ctx context.Context, viewerID string) ([]SharedMoment, error) {
	query := `SELECT id, title, reflection, storage_path, uploader_id, shared_with_id, created_at
		FROM shared_moments
		WHERE uploader_id = $1 OR shared_with_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, viewerID)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.MomentsFor")
	}
	defer rows.Close()

	var moments []SharedMoment
	for rows.Next() {
		var m SharedMoment
		if err := rows.Scan(&m.ID, &m.Title, &m.Reflection, &m.StoragePath,
			&m.UploaderID, &m.SharedWithID, &m.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "conversationRepo.MomentsFor.Scan")
		}
		moments = append(moments, m)
	}
	return moments, errors.Wrap(rows.Err(), "conversationRepo.MomentsFor.Rows")
}

func (r *Repository) MomentByID(ctx context.Context, id string) (*SharedMoment, error) {
	query := `SELECT id, title, reflection, storage_path, uploader_id, shared_with_id, created_at
		FROM shared_moments WHERE id = $1`
	var m SharedMoment
	err := r.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.Title, &m.Reflection,
		&m.StoragePath, &m.UploaderID, &m.SharedWithID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.MomentByID")
	}
	return &m, nil
}

// MarkMessagesRead flips is_read for the given ids. Idempotent: already-read
// rows are left untouched and re-running is a no-op.
func (r *Repository) MarkMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE messages SET is_read = TRUE WHERE id = ANY($1) AND NOT is_read`
	_, err := r.db.ExecContext(ctx, query, ids)
	return errors.Wrap(err, "conversationRepo.MarkMessagesRead")
}

func (r *Repository) MarkMessageRead(ctx context.Context, id string) error {
	query := `UPDATE messages SET is_read = TRUE WHERE id = $1 AND NOT is_read`
	_, err := r.db.ExecContext(ctx, query, id)
	return errors.Wrap(err, "conversationRepo.MarkMessageRead")
}

// InsertMessage persists m and fills in the server-assigned timestamp.
func (r *Repository) InsertMessage(ctx context.Context, m *Message) error {
	query := `INSERT INTO messages
			(id, sender_id, recipient_id, friendship_id, content, moment_id, capsule_id, starter_id, thread_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, is_read`
	err := r.db.QueryRowContext(ctx, query, m.ID, m.SenderID, m.RecipientID, m.FriendshipID,
		m.Content, m.MomentID, m.CapsuleID, m.StarterID, m.ThreadID).Scan(&m.CreatedAt, &m.IsRead)
	return errors.Wrap(err, "conversationRepo.InsertMessage")
}

func (r *Repository) InsertCapsule(ctx context.Context, c *Capsule) error {
	query := `INSERT INTO capsules
			(id, friendship_id, title, description, capsule_type, created_by, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING last_activity_at, created_at`
	err := r.db.QueryRowContext(ctx, query, c.ID, c.FriendshipID, c.Title, c.Description,
		c.CapsuleType, c.CreatedBy).Scan(&c.LastActivityAt, &c.CreatedAt)
	return errors.Wrap(err, "conversationRepo.InsertCapsule")
}

func (r *Repository) InsertMoment(ctx context.Context, m *SharedMoment) error {
	query := `INSERT INTO shared_moments
			(id, title, reflection, storage_path, uploader_id, shared_with_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, m.ID, m.Title, m.Reflection, m.StoragePath,
		m.UploaderID, m.SharedWithID).Scan(&m.CreatedAt)
	return errors.Wrap(err, "conversationRepo.InsertMoment")
}

// TouchCapsule bumps a capsule's activity timestamp. Runs as its own round
// trip after the message insert; a failure leaves the timestamp stale, which
// is accepted.
func (r *Repository) TouchCapsule(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE capsules SET last_activity_at = $2 WHERE id = $1`, id, at)
	return errors.Wrap(err, "conversationRepo.TouchCapsule")
}

func (r *Repository) TouchThread(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE starter_threads SET last_message_at = $2 WHERE id = $1`, id, at)
	return errors.Wrap(err, "conversationRepo.TouchThread")
}

// FindOrCreateThread returns the one thread for a (starter, friendship)
// pair, creating it if absent. The upsert rides on the unique constraint,
// so concurrent calls converge on a single row instead of racing a
// check-then-insert.
func (r *Repository) FindOrCreateThread(ctx context.Context, newID, starterID, friendshipID string) (*Thread, error) {
	query := `INSERT INTO starter_threads (id, starter_id, friendship_id, last_message_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (starter_id, friendship_id)
			DO UPDATE SET last_message_at = EXCLUDED.last_message_at
		RETURNING id, starter_id, friendship_id, created_at, last_message_at`
	var t Thread
	err := r.db.QueryRowContext(ctx, query, newID, starterID, friendshipID).Scan(
		&t.ID, &t.StarterID, &t.FriendshipID, &t.CreatedAt, &t.LastMessageAt)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.FindOrCreateThread")
	}
	return &t, nil
}

// Starters returns a random sample of prompts, optionally filtered by
// category.
func (r *Repository) Starters(ctx context.Context, category string, limit int) ([]Starter, error) {
	query := `SELECT id, text, category, colour FROM starters ORDER BY random() LIMIT $1`
	args := []any{limit}
	if category != "" && category != "all" {
		query = `SELECT id, text, category, colour FROM starters
			WHERE category = $2 ORDER BY random() LIMIT $1`
		args = append(args, category)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.Starters")
	}
	defer rows.Close()

	var starters []Starter
	for rows.Next() {
		var s Starter
		if err := rows.Scan(&s.ID, &s.Text, &s.Category, &s.Colour); err != nil {
			return nil, errors.Wrap(err, "conversationRepo.Starters.Scan")
		}
		starters = append(starters, s)
	}
	return starters, errors.Wrap(rows.Err(), "conversationRepo.Starters.Rows")
}

func (r *Repository) StarterByID(ctx context.Context, id string) (*Starter, error) {
	var s Starter
	err := r.db.QueryRowContext(ctx,
		`SELECT id, text, category, colour FROM starters WHERE id = $1`, id).
		Scan(&s.ID, &s.Text, &s.Category, &s.Colour)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.StarterByID")
	}
	return &s, nil
}

// FriendshipParticipants resolves the two profile ids behind a friendship.
func (r *Repository) FriendshipParticipants(ctx context.Context, friendshipID string) (userID, friendID string, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id, friend_id FROM friendships WHERE id = $1 AND status = 'accepted'`,
		friendshipID).Scan(&userID, &friendID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return userID, friendID, errors.Wrap(err, "conversationRepo.FriendshipParticipants")
}
