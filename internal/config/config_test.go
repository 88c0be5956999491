package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("CHAT_AUTO_REPLY_DELAY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != StoreDriverMemory {
		t.Fatalf("driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Chat.AutoReplyDelay != 600*time.Millisecond {
		t.Fatalf("auto reply delay = %v", cfg.Chat.AutoReplyDelay)
	}
	if cfg.Chat.FeedLimit != 200 || cfg.Chat.RecentsMax != 25 {
		t.Fatalf("unexpected chat limits: %+v", cfg.Chat)
	}
}

func TestLoadRejectsRedisWithoutAddr(t *testing.T) {
	t.Setenv("STORE_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}
