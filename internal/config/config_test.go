package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":5000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.DetectionInterval != time.Second {
		t.Errorf("DetectionInterval = %v", cfg.DetectionInterval)
	}
	if cfg.ConfidenceThreshold != 0.5 {
		t.Errorf("ConfidenceThreshold = %v", cfg.ConfidenceThreshold)
	}
	if cfg.NtfyBaseURL != "https://ntfy.sh" {
		t.Errorf("NtfyBaseURL = %q", cfg.NtfyBaseURL)
	}
	if cfg.DB.Enabled() || cfg.MQTT.Enabled() || cfg.Kafka.Enabled() || cfg.Snapshots.Enabled() {
		t.Error("optional sinks should stay disabled until addressed")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadLayersFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := strings.Join([]string{
		`http_addr: ":6000"`,
		`log_level: debug`,
		`db:`,
		`  host: db.internal`,
		`  user: vigil`,
		`  password: file-secret`,
		`  name: events`,
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("DB_PASSWORD", "env-secret")
	t.Setenv("DETECTION_INTERVAL", "2s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, want the environment value", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want the file value", cfg.LogLevel)
	}
	if cfg.DetectionInterval != 2*time.Second {
		t.Errorf("DetectionInterval = %v", cfg.DetectionInterval)
	}

	if !cfg.DB.Enabled() {
		t.Fatal("DB sink should be enabled once a host is set")
	}
	if cfg.DB.Password != "env-secret" {
		t.Errorf("DB.Password = %q, want the environment value", cfg.DB.Password)
	}
	if cfg.DB.Port != 5432 {
		t.Errorf("DB.Port = %d, want the default to survive layering", cfg.DB.Port)
	}

	if !cfg.Kafka.Enabled() || len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestDSNMasksPassword(t *testing.T) {
	db := DBConfig{Host: "db", Port: 5432, User: "vigil", Password: "hunter2", Name: "events", SSLMode: "disable"}

	dsn := db.DSN()
	if !strings.Contains(dsn, "password=hunter2") {
		t.Errorf("DSN = %q, want the real password", dsn)
	}

	masked := db.DSNForLog()
	if strings.Contains(masked, "hunter2") {
		t.Errorf("DSNForLog = %q leaks the password", masked)
	}
	if !strings.Contains(masked, "password=***") {
		t.Errorf("DSNForLog = %q, want a masked password field", masked)
	}
}
