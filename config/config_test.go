package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  ticket_checkpointed_topic_name: "ticket.checkpointed"
  ticket_completed_topic_name: "ticket.completed"
redis:
  host: "localhost"
  port: 6379
dispatchbox:
  http_addr: ":8080"
  kafka_consumer_group: "dispatch-payroll"
  current_ticket_ttl_seconds: 600
  punch_rate_limit_per_minute: 30
  payroll_http_addr: ":8081"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "ticket.completed", cfg.Kafka.TicketCompletedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.DispatchBox.HTTPAddr)
	require.Equal(t, 30, cfg.DispatchBox.PunchRateLimitPerMinute)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	require.Error(t, err)
}
