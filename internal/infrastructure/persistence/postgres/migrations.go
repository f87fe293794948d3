package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESS RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- One row per user. The full record lives in the JSONB document,
-- experience and level are denormalised for ranking queries.
CREATE TABLE IF NOT EXISTS progress_records (
    user_id TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    experience BIGINT NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_experience CHECK (experience >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_version CHECK (version >= 1)
);

CREATE INDEX IF NOT EXISTS idx_progress_records_experience ON progress_records(experience DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS progress_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE XP HISTORY
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Append-only log of experience awards.
CREATE TABLE IF NOT EXISTS xp_history (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES progress_records(user_id) ON DELETE CASCADE,
    amount BIGINT NOT NULL,
    reason TEXT NOT NULL,
    old_xp BIGINT NOT NULL,
    new_xp BIGINT NOT NULL,
    event_kind VARCHAR(32) NOT NULL,
    resource_id TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_amount CHECK (amount > 0),
    CONSTRAINT valid_delta CHECK (new_xp = old_xp + amount)
);

CREATE INDEX IF NOT EXISTS idx_xp_history_user_time ON xp_history(user_id, occurred_at DESC, id DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS xp_history;
`

// GetMigrations returns all migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_progress_records",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_xp_history",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}
