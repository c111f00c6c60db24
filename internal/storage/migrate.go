package storage

import (
	"context"
	"fmt"
	"strings"
)

type index struct {
	name   string
	cols   string
	unique bool
}

type table struct {
	name    string
	columns []string
	indexes []index
}

// Column types are written as tokens and resolved per dialect.
var schema = []table{
	{
		name: "users",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"email {str} NOT NULL UNIQUE",
			"password_hash {str} NOT NULL",
			"created_at {ts} NOT NULL",
		},
	},
	{
		name: "profiles",
		columns: []string{
			"user_id {id} NOT NULL PRIMARY KEY",
			"nickname {str} NOT NULL DEFAULT ''",
			"full_name {str} NOT NULL DEFAULT ''",
			"date_of_birth {date}",
			"mother_photo_path {str} NOT NULL DEFAULT ''",
			"umiya_photo_path {str} NOT NULL DEFAULT ''",
			"updated_at {ts} NOT NULL",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
	},
	{
		name: "user_tokens",
		columns: []string{
			"token {str} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"created_at {ts} NOT NULL",
			"expires_at {ts} NOT NULL",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "idx_user_tokens_user", cols: "user_id"}},
	},
	{
		name: "chat_messages",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"role {short} NOT NULL",
			"content {text} NOT NULL",
			"mood_detected {short}",
			"is_night_mode {bool}",
			"created_at {ts} NOT NULL",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "idx_chat_messages_user_created", cols: "user_id, created_at"}},
	},
	{
		name: "daily_messages",
		columns: []string{
			"user_id {id} NOT NULL",
			"message_date {date} NOT NULL",
			"message_content {text} NOT NULL",
			"context_type {short} NOT NULL",
			"created_at {ts} NOT NULL",
			"PRIMARY KEY (user_id, message_date)",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
	},
	{
		name: "diary_entries",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"entry_type {short} NOT NULL",
			"content {text} NOT NULL",
			"entry_date {date} NOT NULL",
			"maa_reply {text}",
			"maa_reply_requested {bool} NOT NULL DEFAULT FALSE",
			"created_at {ts} NOT NULL",
			"updated_at {ts} NOT NULL",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "uniq_diary_entries_slot", cols: "user_id, entry_date, entry_type", unique: true}},
	},
	{
		name: "user_tasks",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"title {str} NOT NULL",
			"task_date {date} NOT NULL",
			"scheduled_time {short}",
			"is_completed {bool} NOT NULL DEFAULT FALSE",
			"created_at {ts} NOT NULL",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "idx_user_tasks_user_date", cols: "user_id, task_date"}},
	},
	{
		name: "prayers",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"prayer_content {text} NOT NULL",
			"created_at {ts} NOT NULL",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "idx_prayers_user", cols: "user_id"}},
	},
	{
		name: "private_vault",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"storage_path {str} NOT NULL",
			"original_name {str} NOT NULL",
			"mime_type {short} NOT NULL",
			"size {bigint} NOT NULL",
			"created_at {ts} NOT NULL",
			"deleted_at {ts}",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "idx_private_vault_user", cols: "user_id"}},
	},
	{
		name: "documents",
		columns: []string{
			"id {id} NOT NULL PRIMARY KEY",
			"user_id {id} NOT NULL",
			"file_name {str} NOT NULL",
			"original_name {str} NOT NULL",
			"storage_path {str} NOT NULL",
			"user_note {text}",
			"file_type {str} NOT NULL",
			"file_size {bigint} NOT NULL",
			"created_at {ts} NOT NULL",
			"deleted_at {ts}",
			"FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE",
		},
		indexes: []index{{name: "idx_documents_user", cols: "user_id"}},
	},
	{
		// blob keys awaiting removal once no row references them
		name: "blob_tombstones",
		columns: []string{
			"storage_path {str} NOT NULL PRIMARY KEY",
			"created_at {ts} NOT NULL",
		},
	},
}

func typeReplacer(d Dialect) *strings.Replacer {
	switch d {
	case MySQL:
		return strings.NewReplacer(
			"{id}", "VARCHAR(36)",
			"{str}", "VARCHAR(255)",
			"{short}", "VARCHAR(32)",
			"{text}", "MEDIUMTEXT",
			"{date}", "VARCHAR(10)",
			"{ts}", "DATETIME(6)",
			"{bool}", "BOOLEAN",
			"{bigint}", "BIGINT",
		)
	case Postgres:
		return strings.NewReplacer(
			"{id}", "VARCHAR(36)",
			"{str}", "VARCHAR(255)",
			"{short}", "VARCHAR(32)",
			"{text}", "TEXT",
			"{date}", "VARCHAR(10)",
			"{ts}", "TIMESTAMPTZ",
			"{bool}", "BOOLEAN",
			"{bigint}", "BIGINT",
		)
	default:
		return strings.NewReplacer(
			"{id}", "TEXT",
			"{str}", "TEXT",
			"{short}", "TEXT",
			"{text}", "TEXT",
			"{date}", "TEXT",
			"{ts}", "DATETIME",
			"{bool}", "BOOLEAN",
			"{bigint}", "INTEGER",
		)
	}
}

// statements renders the schema for a dialect. MySQL has no
// CREATE INDEX IF NOT EXISTS, so its indexes are declared inline.
func statements(d Dialect) []string {
	r := typeReplacer(d)
	var stmts []string
	for _, t := range schema {
		cols := make([]string, 0, len(t.columns)+len(t.indexes))
		for _, c := range t.columns {
			cols = append(cols, r.Replace(c))
		}
		if d == MySQL {
			for _, idx := range t.indexes {
				kind := "INDEX"
				if idx.unique {
					kind = "UNIQUE KEY"
				}
				cols = append(cols, fmt.Sprintf("%s %s (%s)", kind, idx.name, idx.cols))
			}
		}
		stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(cols, ",\n\t"))
		if d == MySQL {
			stmt += " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
		}
		stmts = append(stmts, stmt)
		if d != MySQL {
			for _, idx := range t.indexes {
				kind := "INDEX"
				if idx.unique {
					kind = "UNIQUE INDEX"
				}
				stmts = append(stmts, fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s(%s)", kind, idx.name, t.name, idx.cols))
			}
		}
	}
	return stmts
}

// Migrate ensures the required tables are present.
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range statements(db.Dialect()) {
		if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.Dialect(), err)
		}
	}
	return nil
}
