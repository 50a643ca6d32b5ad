package routing

// sqliteSchema is applied on every open; statements are idempotent.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS routing_records (
	origin_key TEXT PRIMARY KEY,
	origin_channel TEXT NOT NULL,
	unresolved TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- The primary key makes every derived thread belong to exactly one record.
CREATE TABLE IF NOT EXISTS routing_deliveries (
	thread_channel TEXT NOT NULL,
	thread_ts TEXT NOT NULL,
	origin_key TEXT NOT NULL REFERENCES routing_records(origin_key) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	recipient TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	PRIMARY KEY (thread_channel, thread_ts)
);

CREATE INDEX IF NOT EXISTS idx_routing_deliveries_origin ON routing_deliveries(origin_key, position);
`
