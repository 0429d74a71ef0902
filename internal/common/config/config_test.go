package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.local",
		Port:     5433,
		User:     "capsule",
		Password: "secret",
		Database: "journal",
		SSLMode:  "require",
	}

	assert.Equal(t, "host=db.local port=5433 user=capsule password=secret dbname=journal sslmode=require", cfg.GetDSN())
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "remote.example")
	t.Setenv("TEST_DB_PORT", "6543")
	t.Setenv("TEST_DB_NAME", "capsule")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, Database: "postgres", User: "postgres"}
	cfg.LoadFromEnv("TEST_DB")

	assert.Equal(t, "remote.example", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "capsule", cfg.Database)
	assert.Equal(t, "postgres", cfg.User)
}

func TestSQLiteConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LOCAL_SQLITE_PATH", "/tmp/capsule.db")
	t.Setenv("LOCAL_SQLITE_BUSY_TIMEOUT", "2s")

	cfg := SQLiteConfig{Path: "capsule.db", BusyTimeout: 5 * time.Second}
	cfg.LoadFromEnv("LOCAL_SQLITE")

	assert.Equal(t, "/tmp/capsule.db", cfg.Path)
	assert.Equal(t, 2*time.Second, cfg.BusyTimeout)
}

func TestMQTTConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_QOS", "1")

	cfg := MQTTConfig{}
	cfg.LoadFromEnv("MQTT")

	assert.Equal(t, "tcp://broker:1883", cfg.Broker)
	assert.Equal(t, byte(1), cfg.QoS)
}
