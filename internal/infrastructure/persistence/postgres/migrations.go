package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_progression",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_challenges",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS progression_records (
	user_id               TEXT PRIMARY KEY,
	total_xp              BIGINT NOT NULL DEFAULT 0,
	current_level         INTEGER NOT NULL DEFAULT 1,
	forgiveness_tokens    INTEGER NOT NULL DEFAULT 3,
	token_cycle_start     TIMESTAMP WITH TIME ZONE NOT NULL,
	unlocked_achievements JSONB NOT NULL DEFAULT '[]',
	version               INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS forgiveness_grants (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	habit_id      TEXT NOT NULL,
	forgiven_date DATE NOT NULL,
	created_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	CONSTRAINT forgiveness_grants_once_per_day UNIQUE (user_id, habit_id, forgiven_date)
);

CREATE INDEX IF NOT EXISTS idx_forgiveness_grants_user
	ON forgiveness_grants (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS processed_events (
	user_id      TEXT NOT NULL,
	event_id     TEXT NOT NULL,
	processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_events_age
	ON processed_events (processed_at);
`

const migration001Down = `
DROP TABLE IF EXISTS processed_events;
DROP TABLE IF EXISTS forgiveness_grants;
DROP TABLE IF EXISTS progression_records;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS challenges (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	requirements     JSONB NOT NULL,
	duration_days    INTEGER NOT NULL,
	reward_xp        INTEGER NOT NULL,
	start_date       TIMESTAMP WITH TIME ZONE NOT NULL,
	end_date         TIMESTAMP WITH TIME ZONE NOT NULL,
	max_participants INTEGER NOT NULL DEFAULT 0,
	ranks_finalized  BOOLEAN NOT NULL DEFAULT FALSE,
	recovery_for     TEXT NOT NULL DEFAULT '',
	days_missed      INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_challenges_window
	ON challenges (start_date, end_date);

CREATE INDEX IF NOT EXISTS idx_challenges_unfinalized
	ON challenges (end_date)
	WHERE type = 'community' AND ranks_finalized = FALSE;

CREATE TABLE IF NOT EXISTS challenge_participations (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	challenge_id TEXT NOT NULL REFERENCES challenges(id),
	progress     INTEGER NOT NULL DEFAULT 0,
	completed    BOOLEAN NOT NULL DEFAULT FALSE,
	abandoned    BOOLEAN NOT NULL DEFAULT FALSE,
	start_date   TIMESTAMP WITH TIME ZONE NOT NULL,
	end_date     TIMESTAMP WITH TIME ZONE NOT NULL,
	completed_at TIMESTAMP WITH TIME ZONE,
	final_rank   INTEGER NOT NULL DEFAULT 0,
	joined_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	CONSTRAINT challenge_participations_one_per_user UNIQUE (user_id, challenge_id)
);

CREATE INDEX IF NOT EXISTS idx_participations_challenge
	ON challenge_participations (challenge_id);

CREATE INDEX IF NOT EXISTS idx_participations_user_active
	ON challenge_participations (user_id)
	WHERE completed = FALSE AND abandoned = FALSE;
`

const migration002Down = `
DROP TABLE IF EXISTS challenge_participations;
DROP TABLE IF EXISTS challenges;
`
