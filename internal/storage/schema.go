package storage

// PostgresSchema creates the tables used by PostgresStore.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS bars (
	instrument TEXT NOT NULL,
	timeframe  TEXT NOT NULL,
	time       TIMESTAMPTZ NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (instrument, timeframe, time)
);

CREATE TABLE IF NOT EXISTS swings (
	instrument   TEXT NOT NULL,
	timeframe    TEXT NOT NULL,
	time         TIMESTAMPTZ NOT NULL,
	direction    TEXT NOT NULL,
	price        DOUBLE PRECISION NOT NULL,
	confirmed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (instrument, timeframe, time, direction)
);

CREATE INDEX IF NOT EXISTS swings_confirmed_idx ON swings (instrument, timeframe, confirmed_at);

CREATE TABLE IF NOT EXISTS swing_contexts (
	instrument    TEXT NOT NULL,
	timeframe     TEXT NOT NULL,
	last_bar_time TIMESTAMPTZ NOT NULL,
	version       BIGINT NOT NULL,
	state         JSONB NOT NULL,
	saved_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (instrument, timeframe, last_bar_time)
);
`

// SQLiteSchema creates the tables used by SQLiteStore. Times are stored as
// unix nanoseconds.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS swings (
	instrument   TEXT NOT NULL,
	timeframe    TEXT NOT NULL,
	time_ns      INTEGER NOT NULL,
	direction    TEXT NOT NULL,
	price        REAL NOT NULL,
	confirmed_ns INTEGER NOT NULL,
	run_id       TEXT,
	PRIMARY KEY (instrument, timeframe, time_ns, direction)
);

CREATE TABLE IF NOT EXISTS swing_contexts (
	instrument       TEXT NOT NULL,
	timeframe        TEXT NOT NULL,
	last_bar_time_ns INTEGER NOT NULL,
	version          INTEGER NOT NULL,
	state            TEXT NOT NULL,
	PRIMARY KEY (instrument, timeframe, last_bar_time_ns)
);

CREATE TABLE IF NOT EXISTS replay_runs (
	id           TEXT PRIMARY KEY,
	instrument   TEXT NOT NULL,
	timeframe    TEXT NOT NULL,
	reverse_bars INTEGER NOT NULL,
	source       TEXT NOT NULL,
	bars         INTEGER NOT NULL,
	swings       INTEGER NOT NULL,
	started_ns   INTEGER NOT NULL,
	finished_ns  INTEGER NOT NULL
);
`
