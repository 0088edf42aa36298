package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Connect opens the message store and applies migrations.
func Connect(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// one connection keeps in-memory databases shared and writes serialized
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// Migrate creates the chat schema for the database's driver.
func Migrate(db *sqlx.DB) error {
	var migrations []string
	switch db.DriverName() {
	case DriverPostgres:
		migrations = postgresMigrations
	case DriverSQLite:
		migrations = sqliteMigrations
	default:
		return fmt.Errorf("unsupported driver %q", db.DriverName())
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Printf("database migrations applied driver=%s", db.DriverName())
	return nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS chat_rooms (
            id TEXT PRIMARY KEY,
            participant_a TEXT NOT NULL,
            participant_b TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS chat_rooms_participant_a ON chat_rooms(participant_a);`,
	`CREATE INDEX IF NOT EXISTS chat_rooms_participant_b ON chat_rooms(participant_b);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            seq BIGSERIAL PRIMARY KEY,
            id TEXT NOT NULL UNIQUE,
            room_id TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            sender_role TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            receiver_role TEXT NOT NULL,
            body TEXT NOT NULL,
            state TEXT NOT NULL DEFAULT 'sent',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            read_at TIMESTAMPTZ
        );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_room_seq ON chat_messages(room_id, seq);`,
	`CREATE INDEX IF NOT EXISTS chat_messages_unread ON chat_messages(receiver_id, state);`,
}

var sqliteMigrations = []string{
	`PRAGMA foreign_keys = ON;`,
	`CREATE TABLE IF NOT EXISTS chat_rooms (
            id TEXT PRIMARY KEY,
            participant_a TEXT NOT NULL,
            participant_b TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            last_message_at TIMESTAMP NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS chat_rooms_participant_a ON chat_rooms(participant_a);`,
	`CREATE INDEX IF NOT EXISTS chat_rooms_participant_b ON chat_rooms(participant_b);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            room_id TEXT NOT NULL REFERENCES chat_rooms(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            sender_role TEXT NOT NULL,
            receiver_id TEXT NOT NULL,
            receiver_role TEXT NOT NULL,
            body TEXT NOT NULL,
            state TEXT NOT NULL DEFAULT 'sent',
            created_at TIMESTAMP NOT NULL,
            read_at TIMESTAMP
        );`,
	`CREATE INDEX IF NOT EXISTS chat_messages_room_seq ON chat_messages(room_id, seq);`,
	`CREATE INDEX IF NOT EXISTS chat_messages_unread ON chat_messages(receiver_id, state);`,
}
