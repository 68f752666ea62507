package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
storage:
  path: /tmp/playtime.db
schedule:
  comit_interval: 60s
mirror:
  type: none
  redis:
    hostname: localhost
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys failed: %v", err)
	}

	want := []string{"mirror.redis.hostname", "schedule.comit_interval"}
	if !reflect.DeepEqual(unknown, want) {
		t.Errorf("unknown keys = %v, want %v", unknown, want)
	}
}
