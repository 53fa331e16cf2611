package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	log  zerolog.Logger
}

// New creates a new database connection
func New(dsn string, log zerolog.Logger) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, log: log.With().Str("component", "database").Logger()}

	// Initialize tables and run migrations
	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.migrateSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetConnection returns the underlying database connection
func (db *DB) GetConnection() *sql.DB {
	return db.conn
}

// createTables creates the necessary tables
func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			session_id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			track_type TEXT NOT NULL DEFAULT 'general',
			status TEXT NOT NULL DEFAULT 'active',
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			initial_participants INT NOT NULL DEFAULT 0,
			peak_participants INT NOT NULL DEFAULT 0,
			duration_seconds BIGINT NOT NULL DEFAULT 0,
			speaking_seconds BIGINT NOT NULL DEFAULT 0,
			listening_seconds BIGINT NOT NULL DEFAULT 0,
			afk_seconds BIGINT NOT NULL DEFAULT 0,
			pending_xp INT NOT NULL DEFAULT 0,
			total_xp INT NOT NULL DEFAULT 0,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS voice_sessions_guild_user_idx ON voice_sessions (guild_id, user_id)`,
		`CREATE TABLE IF NOT EXISTS guild_voice_config (
			guild_id TEXT PRIMARY KEY,
			config JSONB NOT NULL,
			excluded_channel_ids TEXT[] NOT NULL DEFAULT '{}',
			excluded_user_ids TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS voice_xp (
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			total_xp BIGINT NOT NULL DEFAULT 0,
			level INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS voice_hours (
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			total_seconds BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, guild_id)
		)`,
		`CREATE TABLE IF NOT EXISTS voice_channel_hours (
			user_id TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			total_seconds BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, guild_id, channel_id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// migrateSchema brings tables created by older releases up to date
func (db *DB) migrateSchema() error {
	migrations := []string{
		// Checkpointing and forensic columns were added after the first release
		`ALTER TABLE voice_sessions ADD COLUMN IF NOT EXISTS pending_xp INT NOT NULL DEFAULT 0`,
		`ALTER TABLE voice_sessions ADD COLUMN IF NOT EXISTS status TEXT NOT NULL DEFAULT 'active'`,
		`ALTER TABLE voice_sessions ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`,

		// Completed rows from before the status column existed
		`UPDATE voice_sessions SET status = 'completed' WHERE is_completed AND status = 'active'`,

		`ALTER TABLE guild_voice_config ADD COLUMN IF NOT EXISTS excluded_channel_ids TEXT[] NOT NULL DEFAULT '{}'`,
		`ALTER TABLE guild_voice_config ADD COLUMN IF NOT EXISTS excluded_user_ids TEXT[] NOT NULL DEFAULT '{}'`,

		`CREATE INDEX IF NOT EXISTS voice_xp_guild_total_idx ON voice_xp (guild_id, total_xp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			db.log.Warn().Err(err).Msg("migration failed (this might be expected)")
		}
	}

	return nil
}
