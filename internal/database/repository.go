package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/lib/pq"

	"voicexp/internal/models"
	"voicexp/internal/voice"
)

// Session row statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateSessionRecord writes the initial, incomplete row of a live session
func (r *Repository) CreateSessionRecord(ctx context.Context, s models.ActiveSession) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO voice_sessions (session_id, guild_id, user_id, channel_id, track_type, status, start_time, initial_participants, peak_participants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (session_id) DO NOTHING`,
		s.SessionID, s.GuildID, s.UserID, s.ChannelID, string(s.TrackType), StatusActive, s.StartTime.UTC(), s.CurrentParticipants)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

// CheckpointSessionRecord stores the pending XP and activity buckets of a live session
func (r *Repository) CheckpointSessionRecord(ctx context.Context, s models.ActiveSession) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE voice_sessions
		SET pending_xp = $2, speaking_seconds = $3, listening_seconds = $4, afk_seconds = $5,
			peak_participants = GREATEST(peak_participants, $6), updated_at = NOW()
		WHERE session_id = $1 AND status = $7`,
		s.SessionID, s.PendingXP, s.SpeakingSeconds, s.ListeningSeconds, s.AFKSeconds, s.PeakParticipants, StatusActive)
	if err != nil {
		return fmt.Errorf("failed to checkpoint session record: %w", err)
	}
	return nil
}

// CompleteSessionRecord finalizes a session row and adds its duration to the
// per-guild and per-channel voice totals.
func (r *Repository) CompleteSessionRecord(ctx context.Context, c models.CompletedSession) (err error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Upsert so a session whose initial write failed still lands
	_, err = tx.ExecContext(ctx, `
		INSERT INTO voice_sessions (session_id, guild_id, user_id, channel_id, track_type, status, start_time, end_time,
			peak_participants, duration_seconds, speaking_seconds, listening_seconds, afk_seconds, pending_xp, total_xp, is_completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, TRUE)
		ON CONFLICT (session_id) DO UPDATE SET
			status = EXCLUDED.status,
			end_time = EXCLUDED.end_time,
			peak_participants = GREATEST(voice_sessions.peak_participants, EXCLUDED.peak_participants),
			duration_seconds = EXCLUDED.duration_seconds,
			speaking_seconds = EXCLUDED.speaking_seconds,
			listening_seconds = EXCLUDED.listening_seconds,
			afk_seconds = EXCLUDED.afk_seconds,
			pending_xp = 0,
			total_xp = EXCLUDED.total_xp,
			is_completed = TRUE,
			updated_at = NOW()`,
		c.SessionID, c.GuildID, c.UserID, c.ChannelID, string(c.TrackType), StatusCompleted, c.StartTime.UTC(), c.EndTime.UTC(),
		c.PeakParticipants, c.DurationSeconds, c.SpeakingSeconds, c.ListeningSeconds, c.AFKSeconds, c.TotalXPEarned)
	if err != nil {
		return fmt.Errorf("failed to complete session record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO voice_hours (user_id, guild_id, total_seconds)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, guild_id) DO UPDATE SET total_seconds = voice_hours.total_seconds + EXCLUDED.total_seconds`,
		c.UserID, c.GuildID, c.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to add voice seconds: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO voice_channel_hours (user_id, guild_id, channel_id, total_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, guild_id, channel_id) DO UPDATE SET total_seconds = voice_channel_hours.total_seconds + EXCLUDED.total_seconds`,
		c.UserID, c.GuildID, c.ChannelID, c.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to add channel seconds: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session record: %w", err)
	}
	return nil
}

// DiscardSessionRecord deletes the row of a session that never qualified
func (r *Repository) DiscardSessionRecord(ctx context.Context, sessionID string) error {
	_, err := r.db.conn.ExecContext(ctx,
		"DELETE FROM voice_sessions WHERE session_id = $1 AND status = $2",
		sessionID, StatusActive)
	if err != nil {
		return fmt.Errorf("failed to discard session record: %w", err)
	}
	return nil
}

// AbandonStaleSessions marks rows left active by a previous process as abandoned
func (r *Repository) AbandonStaleSessions(ctx context.Context) (int64, error) {
	res, err := r.db.conn.ExecContext(ctx,
		"UPDATE voice_sessions SET status = $1, updated_at = NOW() WHERE status = $2",
		StatusAbandoned, StatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to abandon stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count abandoned sessions: %w", err)
	}
	return n, nil
}

// GetSessionStatus returns the status of a session row, or "" if there is none
func (r *Repository) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	var status string
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT status FROM voice_sessions WHERE session_id = $1", sessionID).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to get session status: %w", err)
	}
	return status, nil
}

// LoadVoiceConfig reads a guild's voice config
func (r *Repository) LoadVoiceConfig(ctx context.Context, guildID string) (*models.VoiceConfig, error) {
	var (
		raw              []byte
		excludedChannels []string
		excludedUsers    []string
	)
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT config, excluded_channel_ids, excluded_user_ids FROM guild_voice_config WHERE guild_id = $1",
		guildID).Scan(&raw, pq.Array(&excludedChannels), pq.Array(&excludedUsers))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, voice.ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load voice config: %w", err)
	}

	cfg := models.DefaultVoiceConfig()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode voice config: %w", err)
	}
	cfg.ExcludedChannelIDs = excludedChannels
	cfg.ExcludedUserIDs = excludedUsers
	return cfg, nil
}

// SaveVoiceConfig upserts a guild's voice config
func (r *Repository) SaveVoiceConfig(ctx context.Context, guildID string, cfg *models.VoiceConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode voice config: %w", err)
	}
	// The array columns are NOT NULL
	excludedChannels := cfg.ExcludedChannelIDs
	if excludedChannels == nil {
		excludedChannels = []string{}
	}
	excludedUsers := cfg.ExcludedUserIDs
	if excludedUsers == nil {
		excludedUsers = []string{}
	}
	_, err = r.db.conn.ExecContext(ctx, `
		INSERT INTO guild_voice_config (guild_id, config, excluded_channel_ids, excluded_user_ids, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			config = EXCLUDED.config,
			excluded_channel_ids = EXCLUDED.excluded_channel_ids,
			excluded_user_ids = EXCLUDED.excluded_user_ids,
			updated_at = NOW()`,
		guildID, raw, pq.Array(excludedChannels), pq.Array(excludedUsers))
	if err != nil {
		return fmt.Errorf("failed to save voice config: %w", err)
	}
	return nil
}

// GrantXP adds amount to the user's voice XP and recomputes their level
func (r *Repository) GrantXP(ctx context.Context, guildID, userID string, amount int) (leveledUp bool, newLevel int, err error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var (
		total    int64
		oldLevel int
	)
	// RETURNING yields the new total and the level as it was before this grant
	err = tx.QueryRowContext(ctx, `
		INSERT INTO voice_xp (user_id, guild_id, total_xp, level)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id, guild_id) DO UPDATE SET total_xp = voice_xp.total_xp + EXCLUDED.total_xp, updated_at = NOW()
		RETURNING total_xp, level`,
		userID, guildID, amount).Scan(&total, &oldLevel)
	if err != nil {
		return false, 0, fmt.Errorf("failed to grant xp: %w", err)
	}

	newLevel = LevelForXP(total)
	if newLevel != oldLevel {
		if _, err = tx.ExecContext(ctx,
			"UPDATE voice_xp SET level = $3 WHERE user_id = $1 AND guild_id = $2",
			userID, guildID, newLevel); err != nil {
			return false, 0, fmt.Errorf("failed to update level: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit xp grant: %w", err)
	}
	return newLevel > oldLevel, newLevel, nil
}

// GetVoiceXP gets the ledger entry of a user in a guild
func (r *Repository) GetVoiceXP(ctx context.Context, userID, guildID string) (models.VoiceXPEntry, error) {
	entry := models.VoiceXPEntry{UserID: userID, GuildID: guildID}
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT total_xp, level FROM voice_xp WHERE user_id = $1 AND guild_id = $2",
		userID, guildID).Scan(&entry.TotalXP, &entry.Level)
	if err != nil && err != sql.ErrNoRows {
		return entry, fmt.Errorf("failed to get voice xp: %w", err)
	}
	return entry, nil
}

// TopVoiceXP gets the guild's ledger entries with the most XP
func (r *Repository) TopVoiceXP(ctx context.Context, guildID string, limit int) ([]models.VoiceXPEntry, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT user_id, total_xp, level FROM voice_xp WHERE guild_id = $1 ORDER BY total_xp DESC LIMIT $2",
		guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top voice xp: %w", err)
	}
	defer rows.Close()

	var entries []models.VoiceXPEntry
	for rows.Next() {
		entry := models.VoiceXPEntry{GuildID: guildID}
		if err := rows.Scan(&entry.UserID, &entry.TotalXP, &entry.Level); err != nil {
			r.db.log.Warn().Err(err).Msg("error scanning voice xp row")
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return entries, fmt.Errorf("failed to iterate voice xp rows: %w", err)
	}
	return entries, nil
}

// GetVoiceHours gets total voice seconds for a user in a guild
func (r *Repository) GetVoiceHours(ctx context.Context, userID, guildID string) (int64, error) {
	var totalSeconds int64
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT total_seconds FROM voice_hours WHERE user_id = $1 AND guild_id = $2",
		userID, guildID).Scan(&totalSeconds)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to get voice hours: %w", err)
	}
	return totalSeconds, nil
}

// GetVoiceChannelHours gets voice seconds per channel for a user in a guild
func (r *Repository) GetVoiceChannelHours(ctx context.Context, userID, guildID string) ([]VoiceChannelHours, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT channel_id, total_seconds FROM voice_channel_hours WHERE user_id = $1 AND guild_id = $2 ORDER BY total_seconds DESC",
		userID, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get voice channel hours: %w", err)
	}
	defer rows.Close()

	var channelHours []VoiceChannelHours
	for rows.Next() {
		var ch VoiceChannelHours
		if err := rows.Scan(&ch.ChannelID, &ch.TotalSeconds); err != nil {
			r.db.log.Warn().Err(err).Msg("error scanning channel hours row")
			continue
		}
		ch.UserID = userID
		ch.GuildID = guildID
		channelHours = append(channelHours, ch)
	}
	if err := rows.Err(); err != nil {
		return channelHours, fmt.Errorf("failed to iterate channel hours rows: %w", err)
	}

	return channelHours, nil
}

// VoiceChannelHours represents voice channel hours data
type VoiceChannelHours struct {
	UserID       string
	GuildID      string
	ChannelID    string
	TotalSeconds int64
}
