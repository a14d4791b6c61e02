package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfigGetDSN(t *testing.T) {
	t.Run("postgres", func(t *testing.T) {
		dbConfig := &DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "replyflow",
			Password: "secret",
			Name:     "replyflow",
			SSLMode:  "disable",
		}

		expected := "host=localhost port=5432 user=replyflow password=secret dbname=replyflow sslmode=disable"
		assert.Equal(t, expected, dbConfig.GetDSN())
	})

	t.Run("mysql", func(t *testing.T) {
		dbConfig := &DatabaseConfig{
			Driver:   "mysql",
			Host:     "db.internal",
			Port:     3306,
			User:     "replyflow",
			Password: "secret",
			Name:     "replyflow",
		}

		assert.Equal(t, "replyflow:secret@tcp(db.internal:3306)/replyflow?parseTime=true", dbConfig.GetDSN())
	})

	t.Run("sqlite uses the name as path", func(t *testing.T) {
		dbConfig := &DatabaseConfig{Driver: "sqlite3", Name: "/tmp/replyflow.db"}
		assert.Equal(t, "/tmp/replyflow.db", dbConfig.GetDSN())
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: replyflow
  env: test
database:
  driver: postgres
  host: db.internal
  port: 5432
redis:
  host: cache.internal
  dedup:
    ttl: 24h
inbound:
  reply_address: reply+%{key}@example.com
  key_delimiter: "+"
  commands: [close, reopen]
  poll_schedule: "0 */2 * * * *"
  accounts:
    - type: imaps
      host: mail.example.com
      username: replies
      password: secret
      folder: Replies
storage:
  path: /var/lib/replyflow/attachments
  base_url: /uploads
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.GetRedisAddr())
	assert.Equal(t, 24*time.Hour, cfg.Redis.Dedup.TTL)
	assert.Equal(t, "reply+%{key}@example.com", cfg.Inbound.ReplyAddress)
	assert.Equal(t, []string{"close", "reopen"}, cfg.Inbound.Commands)
	assert.Equal(t, "0 */2 * * * *", cfg.Inbound.PollSchedule)
	require.Len(t, cfg.Inbound.Accounts, 1)
	assert.Equal(t, "imaps", cfg.Inbound.Accounts[0].Type)
	assert.Equal(t, "Replies", cfg.Inbound.Accounts[0].Folder)
	assert.Equal(t, "/var/lib/replyflow/attachments", cfg.Storage.Path)
}

func TestLoadFromFileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  name: replyflow\n"), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "replyflow:seen:", cfg.Redis.Dedup.Prefix)
	assert.Equal(t, 72*time.Hour, cfg.Redis.Dedup.TTL)
	assert.Equal(t, "+", cfg.Inbound.KeyDelimiter)
	assert.Equal(t, int64(128*1024), cfg.Inbound.BodyLimit)
	assert.Equal(t, int64(50*1024*1024), cfg.Inbound.MaxMessageSize)
	assert.Equal(t, "0 * * * * *", cfg.Inbound.PollSchedule)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestInboundConfigSubAddressing(t *testing.T) {
	t.Run("enabled when template carries the key marker", func(t *testing.T) {
		cfg := &InboundConfig{ReplyAddress: "reply+%{key}@example.com"}
		assert.True(t, cfg.SubAddressingEnabled())
		assert.Equal(t, "reply+abc123@example.com", cfg.ReplyAddressFor("abc123"))
	})

	t.Run("disabled for a fixed mailbox", func(t *testing.T) {
		cfg := &InboundConfig{ReplyAddress: "replies@example.com"}
		assert.False(t, cfg.SubAddressingEnabled())
		assert.Equal(t, "replies@example.com", cfg.ReplyAddressFor("abc123"))
	})
}
