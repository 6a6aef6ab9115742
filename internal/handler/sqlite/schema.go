package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	origin_time INTEGER NOT NULL,
	magnitude   REAL NOT NULL DEFAULT 0,
	lon         REAL NOT NULL DEFAULT 0,
	lat         REAL NOT NULL DEFAULT 0,
	lastrun     INTEGER,
	repeats     TEXT NOT NULL DEFAULT '[]',
	payload     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS amplitudes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	observed_at INTEGER NOT NULL,
	station     TEXT NOT NULL DEFAULT '',
	event_id    TEXT
);

CREATE INDEX IF NOT EXISTS idx_amplitudes_unassociated
	ON amplitudes(event_id) WHERE event_id IS NULL;
`
