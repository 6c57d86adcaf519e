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

func (d *Database) Close() error {
	return d.Conn.Close()
}

// AutoMigrate creates the subset of the marketplace schema the realtime engine reads and writes.
// The CRUD services own the full schema; every statement here is idempotent.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id UUID PRIMARY KEY,
            name VARCHAR(120) NOT NULL,
            avatar_url TEXT NOT NULL DEFAULT '',
            role VARCHAR(10) NOT NULL CHECK (role IN ('CLIENT', 'LAWYER', 'ADMIN')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS lawyer_profiles (
            id UUID PRIMARY KEY,
            user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE TABLE IF NOT EXISTS consultations (
            id UUID PRIMARY KEY,
            client_id UUID NOT NULL REFERENCES users(id),
            lawyer_profile_id UUID NOT NULL REFERENCES lawyer_profiles(id),
            status VARCHAR(10) NOT NULL DEFAULT 'PENDING'
                CHECK (status IN ('PENDING', 'TRIAL', 'ACTIVE', 'COMPLETED', 'CANCELLED')),
            started_at TIMESTAMPTZ,
            trial_end_at TIMESTAMPTZ,
            ended_at TIMESTAMPTZ,
            summary TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE INDEX IF NOT EXISTS idx_consultations_status ON consultations (status, trial_end_at)`,

		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            consultation_id UUID NOT NULL REFERENCES consultations(id) ON DELETE CASCADE,
            sender_id UUID NOT NULL REFERENCES users(id),
            type VARCHAR(10) NOT NULL CHECK (type IN ('TEXT', 'IMAGE', 'DOCUMENT', 'SYSTEM')),
            content TEXT NOT NULL DEFAULT '',
            file_url TEXT NOT NULL DEFAULT '',
            reply_to_id UUID REFERENCES messages(id),
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            read_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_consultation ON messages (consultation_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS payments (
            id UUID PRIMARY KEY,
            consultation_id UUID NOT NULL REFERENCES consultations(id) ON DELETE CASCADE,
            provider_ref VARCHAR(120) NOT NULL UNIQUE,
            status VARCHAR(12) NOT NULL CHECK (status IN ('PENDING', 'SUCCEEDED', 'FAILED', 'REFUNDED')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
	}

	for _, query := range queries {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
