package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"veilchat/internal/config"
	"veilchat/internal/database"
)

// statements rebuilds the schema from scratch. The digests CHECK pins the
// recipient exclusivity rule in the database itself: exactly one of
// user_id and device_id is set per row.
var statements = []string{
	`DROP TABLE IF EXISTS digests`,
	`DROP TABLE IF EXISTS messages`,
	`DROP TABLE IF EXISTS memberships`,
	`DROP TABLE IF EXISTS conversations`,
	`DROP TABLE IF EXISTS devices`,
	`DROP TABLE IF EXISTS auth_tokens`,
	`DROP TABLE IF EXISTS users`,
	`CREATE TABLE users (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		hash TEXT NOT NULL,
		client_salt TEXT NOT NULL,
		keygen_salt TEXT NOT NULL,
		server_salt TEXT NOT NULL,
		public_key TEXT NOT NULL
	)`,
	`CREATE TABLE auth_tokens (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		public_key TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE devices (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		public_key TEXT NOT NULL
	)`,
	`CREATE TABLE conversations (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		default_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE memberships (
		user_id BIGINT NOT NULL REFERENCES users(id),
		conversation_id BIGINT NOT NULL REFERENCES conversations(id),
		custom_name TEXT,
		UNIQUE (user_id, conversation_id)
	)`,
	`CREATE TABLE messages (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id),
		sender_id BIGINT NOT NULL REFERENCES users(id),
		sent_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE digests (
		id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		message_id BIGINT NOT NULL REFERENCES messages(id),
		contents TEXT NOT NULL,
		user_id BIGINT REFERENCES users(id),
		device_id BIGINT REFERENCES devices(id),
		CHECK ((user_id IS NULL) <> (device_id IS NULL))
	)`,
	`CREATE INDEX digests_message_user_idx ON digests (message_id, user_id)`,
	`CREATE INDEX digests_message_device_idx ON digests (message_id, device_id)`,
}

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			log.Fatalf("Failed to run %q: %v", stmt[:min(40, len(stmt))], err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit schema: %v", err)
	}

	log.Println("Schema rebuilt")
}
