package profile

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var ErrNotFound = errors.New("profile not found")

func (r *Repository) GetByID(ctx context.Context, id string) (*Profile, error) {
	p := &Profile{}
	query := `SELECT id, username, handle, avatar_path, created_at FROM profiles WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Username, &p.Handle, &p.AvatarPath, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "profileRepo.GetByID")
	}
	return p, nil
}

// Search matches usernames case-insensitively, excluding the caller. We
// limit to 10 to keep it fast.
func (r *Repository) Search(ctx context.Context, query, excludeID string) ([]Profile, error) {
	q := `SELECT id, username, handle, avatar_path, created_at
		FROM profiles
		WHERE username ILIKE $1 AND id <> $2
		LIMIT 10`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, errors.Wrap(err, "profileRepo.Search")
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.Handle, &p.AvatarPath, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "profileRepo.Search.Scan")
		}
		profiles = append(profiles, p)
	}
	return profiles, errors.Wrap(rows.Err(), "profileRepo.Search.Rows")
}
