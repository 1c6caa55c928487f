package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create conversations and messages",
		SQL: `
			CREATE TABLE conversations (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE messages (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role             TEXT NOT NULL,
				content          TEXT NOT NULL,
				created_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_messages_conversation ON messages (conversation_id, id);
		`,
	},
}
