package usage

// SchemaVersion is the layout version stamped into every snapshot.
// Version 0 is the unversioned layout that only had user_image_usage.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS user_image_usage (
    email                  TEXT PRIMARY KEY,
    last_generation_date   TEXT,
    images_generated_today INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS schema_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const (
	metaSchemaVersion = "schema_version"

	stampVersionSQL = `INSERT OR REPLACE INTO schema_meta (key, value) VALUES (?, ?)`

	selectRecordSQL = `
		SELECT email, last_generation_date, images_generated_today
		FROM user_image_usage
		WHERE email = ?`

	selectAllSQL = `
		SELECT email, last_generation_date, images_generated_today
		FROM user_image_usage
		ORDER BY email ASC`

	upsertRecordSQL = `
		INSERT OR REPLACE INTO user_image_usage (email, last_generation_date, images_generated_today)
		VALUES (?, ?, ?)`

	createRecordSQL = `
		INSERT OR IGNORE INTO user_image_usage (email, last_generation_date, images_generated_today)
		VALUES (?, NULL, 0)`

	// snapshot (ATTACH ... AS snap) queries
	snapTableExistsSQL = `SELECT count(*) FROM snap.sqlite_master WHERE type = 'table' AND name = ?`
	snapVersionSQL     = `SELECT value FROM snap.schema_meta WHERE key = ?`
	copySnapshotSQL    = `
		INSERT OR REPLACE INTO main.user_image_usage (email, last_generation_date, images_generated_today)
		SELECT email, last_generation_date, COALESCE(images_generated_today, 0)
		FROM snap.user_image_usage
		WHERE email IS NOT NULL`
)
