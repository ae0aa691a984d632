package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) AutoMigrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
            id UUID PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            handle VARCHAR(50) NOT NULL DEFAULT '',
            avatar_path TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS friendships (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            friend_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
            status VARCHAR(10) NOT NULL DEFAULT 'pending'
                CHECK (status IN ('pending', 'accepted', 'blocked')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (user_id, friend_id)
        )`,

		`CREATE TABLE IF NOT EXISTS starters (
            id UUID PRIMARY KEY,
            text TEXT NOT NULL,
            category VARCHAR(30) NOT NULL DEFAULT '',
            colour VARCHAR(10) NOT NULL DEFAULT ''
        )`,

		`CREATE TABLE IF NOT EXISTS capsules (
            id UUID PRIMARY KEY,
            friendship_id UUID NOT NULL REFERENCES friendships(id) ON DELETE CASCADE,
            title VARCHAR(100) NOT NULL,
            description TEXT,
            capsule_type VARCHAR(20) NOT NULL DEFAULT 'general',
            created_by UUID NOT NULL REFERENCES profiles(id),
            last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		// One thread per (starter, friendship). The constraint, not the
		// application, enforces find-or-create under concurrent taps.
		`CREATE TABLE IF NOT EXISTS starter_threads (
            id UUID PRIMARY KEY,
            starter_id UUID NOT NULL REFERENCES starters(id),
            friendship_id UUID NOT NULL REFERENCES friendships(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (starter_id, friendship_id)
        )`,

		`CREATE TABLE IF NOT EXISTS shared_moments (
            id UUID PRIMARY KEY,
            title TEXT NOT NULL DEFAULT '',
            reflection TEXT NOT NULL DEFAULT '',
            storage_path TEXT NOT NULL,
            uploader_id UUID NOT NULL REFERENCES profiles(id),
            shared_with_id UUID NOT NULL REFERENCES profiles(id),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            sender_id UUID NOT NULL REFERENCES profiles(id),
            recipient_id UUID NOT NULL REFERENCES profiles(id),
            friendship_id UUID NOT NULL REFERENCES friendships(id) ON DELETE CASCADE,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            moment_id UUID REFERENCES shared_moments(id),
            capsule_id UUID REFERENCES capsules(id) ON DELETE CASCADE,
            starter_id UUID REFERENCES starters(id),
            thread_id UUID REFERENCES starter_threads(id) ON DELETE CASCADE
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_friendship_created
            ON messages (friendship_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_capsule
            ON messages (capsule_id) WHERE capsule_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread
            ON messages (thread_id) WHERE thread_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_unread
            ON messages (recipient_id) WHERE NOT is_read`,
		`CREATE INDEX IF NOT EXISTS idx_moments_participants
            ON shared_moments (uploader_id, shared_with_id)`,
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
