package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestUpsertSessionScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tests := []struct {
		name       string
		sessionID  string
		appID      string
		active     string
		wantInSet  bool
		wantAppKey bool
		wantTTL    bool
	}{
		{
			name:       "create active session",
			sessionID:  "session-1",
			appID:      "570",
			active:     "1",
			wantInSet:  true,
			wantAppKey: true,
		},
		{
			name:      "create inactive session",
			sessionID: "session-2",
			appID:     "730",
			active:    "0",
			wantTTL:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := []string{sessionKey(tt.sessionID), activeSessionsKey(), appSessionKey(tt.appID)}
			args := []interface{}{tt.sessionID, tt.appID, now, now, 60, tt.active, 3600}

			if err := upsertSession.Run(ctx, client, keys, args...).Err(); err != nil {
				t.Fatalf("script failed: %v", err)
			}

			inSet, err := client.SIsMember(ctx, activeSessionsKey(), tt.sessionID).Result()
			if err != nil {
				t.Fatalf("SIsMember failed: %v", err)
			}
			if inSet != tt.wantInSet {
				t.Errorf("active set membership = %v, want %v", inSet, tt.wantInSet)
			}

			if got := mr.Exists(appSessionKey(tt.appID)); got != tt.wantAppKey {
				t.Errorf("app key exists = %v, want %v", got, tt.wantAppKey)
			}

			if ttl := mr.TTL(sessionKey(tt.sessionID)); (ttl > 0) != tt.wantTTL {
				t.Errorf("session ttl = %v, want ttl set %v", ttl, tt.wantTTL)
			}

			if got := mr.HGet(sessionKey(tt.sessionID), "app_id"); got != tt.appID {
				t.Errorf("app_id = %q, want %q", got, tt.appID)
			}
		})
	}
}

func TestUpsertSessionScript_CloseKeepsNewerAppMapping(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	run := func(id, active string) {
		t.Helper()
		keys := []string{sessionKey(id), activeSessionsKey(), appSessionKey("570")}
		if err := upsertSession.Run(ctx, client, keys, id, "570", now, now, 0, active, 0).Err(); err != nil {
			t.Fatalf("script failed: %v", err)
		}
	}

	run("old", "1")
	run("new", "1")
	run("old", "0")

	got, err := mr.Get(appSessionKey("570"))
	if err != nil {
		t.Fatalf("app key missing: %v", err)
	}
	if got != "new" {
		t.Errorf("app key = %q, want %q", got, "new")
	}
}
