package db

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "create users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT DEFAULT '',
				display_name TEXT DEFAULT '',
				blocked BOOLEAN NOT NULL DEFAULT 0,
				recent_activity TEXT NOT NULL DEFAULT '',
				console_password_hash TEXT DEFAULT '',
				created_at DATETIME NOT NULL,
				last_active DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_users_blocked ON users(blocked);
		`,
	},
	{
		name: "create admins table",
		sql: `
			CREATE TABLE IF NOT EXISTS admins (
				user_id TEXT PRIMARY KEY,
				added_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`,
	},
	{
		name: "create message log",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				entry_id TEXT NOT NULL UNIQUE,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
				admin_id TEXT DEFAULT '',
				direction TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, id);
		`,
	},
	{
		name: "create thread references",
		sql: `
			CREATE TABLE IF NOT EXISTS thread_refs (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
				created_at DATETIME NOT NULL
			)
		`,
	},
	{
		name: "create bot settings",
		sql: `
			CREATE TABLE IF NOT EXISTS bot_settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)
		`,
	},
}
