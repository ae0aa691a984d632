package friendship

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var (
	ErrNotFound      = errors.New("friendship not found")
	ErrAlreadyExists = errors.New("friendship already exists")
)

const pgUniqueViolation = "23505"

// ListAccepted returns the viewer's friends with per-conversation unread
// counts, regardless of which side of the row the viewer sits on.
func (r *Repository) ListAccepted(ctx context.Context, userID string) ([]FriendSummary, error) {
	query := `
		SELECT f.id, p.id, p.username, p.handle, p.avatar_path, p.created_at,
			(SELECT COUNT(*) FROM messages m
				WHERE m.friendship_id = f.id AND m.recipient_id = $1 AND NOT m.is_read)
		FROM friendships f
		JOIN profiles p
			ON p.id = CASE WHEN f.user_id = $1 THEN f.friend_id ELSE f.user_id END
		WHERE (f.user_id = $1 OR f.friend_id = $1) AND f.status = 'accepted'
		ORDER BY f.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "friendshipRepo.ListAccepted")
	}
	defer rows.Close()

	var friends []FriendSummary
	for rows.Next() {
		var s FriendSummary
		if err := rows.Scan(&s.FriendshipID, &s.Friend.ID, &s.Friend.Username, &s.Friend.Handle,
			&s.Friend.AvatarPath, &s.Friend.CreatedAt, &s.UnreadCount); err != nil {
			return nil, errors.Wrap(err, "friendshipRepo.ListAccepted.Scan")
		}
		friends = append(friends, s)
	}
	return friends, errors.Wrap(rows.Err(), "friendshipRepo.ListAccepted.Rows")
}

// PendingFor returns requests addressed to the viewer.
func (r *Repository) PendingFor(ctx context.Context, userID string) ([]Request, error) {
	query := `
		SELECT f.id, p.id, p.username, p.handle, p.avatar_path, p.created_at
		FROM friendships f
		JOIN profiles p ON p.id = f.user_id
		WHERE f.friend_id = $1 AND f.status = 'pending'
		ORDER BY f.created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "friendshipRepo.PendingFor")
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.ID, &req.From.ID, &req.From.Username, &req.From.Handle,
			&req.From.AvatarPath, &req.From.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "friendshipRepo.PendingFor.Scan")
		}
		requests = append(requests, req)
	}
	return requests, errors.Wrap(rows.Err(), "friendshipRepo.PendingFor.Rows")
}

func (r *Repository) Create(ctx context.Context, f *Friendship) error {
	query := `INSERT INTO friendships (id, user_id, friend_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, f.ID, f.UserID, f.FriendID, f.Status).
		Scan(&f.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	return errors.Wrap(err, "friendshipRepo.Create")
}

// UpdateStatus flips a pending request; only the addressee may do it.
func (r *Repository) UpdateStatus(ctx context.Context, id, addresseeID, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE friendships SET status = $3 WHERE id = $1 AND friend_id = $2`,
		id, addresseeID, status)
	if err != nil {
		return errors.Wrap(err, "friendshipRepo.UpdateStatus")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "friendshipRepo.UpdateStatus.RowsAffected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
