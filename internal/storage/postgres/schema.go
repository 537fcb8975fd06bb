package postgres

const schema = `
CREATE TABLE IF NOT EXISTS categories (
	key   TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	dirty BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS categories_dirty_idx ON categories (dirty) WHERE dirty;

CREATE TABLE IF NOT EXISTS entries (
	id          BIGINT PRIMARY KEY,
	title       TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	fingerprint TEXT NOT NULL,
	size        BIGINT NOT NULL,
	description TEXT NOT NULL,
	category    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_ts_idx ON entries (ts DESC);
CREATE INDEX IF NOT EXISTS entries_category_idx ON entries (category text_pattern_ops, ts DESC);

CREATE TABLE IF NOT EXISTS mirror_state (
	name TEXT PRIMARY KEY,
	ts   TIMESTAMPTZ,
	flag BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS accounts (
	id       INTEGER PRIMARY KEY,
	username TEXT NOT NULL,
	password TEXT NOT NULL,
	user_id  BIGINT NOT NULL,
	cookies  JSONB
);
`
