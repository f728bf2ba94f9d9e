package config

import (
	"testing"
	"time"
)

func TestManager_Typed(t *testing.T) {
	m := NewManager()
	m.Set("name", "static")
	m.Set("count", 12)
	m.Set("count.str", " 34 ")
	m.Set("wait", "150ms")
	m.Set("wait.native", 2*time.Second)

	if got := m.GetString("name"); got != "static" {
		t.Errorf("GetString = %q", got)
	}
	if got := m.GetInt("count"); got != 12 {
		t.Errorf("GetInt = %d", got)
	}
	if got := m.GetInt("count.str"); got != 34 {
		t.Errorf("GetInt from string = %d", got)
	}
	if got := m.GetDuration("wait"); got != 150*time.Millisecond {
		t.Errorf("GetDuration from string = %s", got)
	}
	if got := m.GetDuration("wait.native"); got != 2*time.Second {
		t.Errorf("GetDuration = %s", got)
	}
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager()
	m.Set("bad.int", "twelve")
	m.Set("bad.duration", "soon")

	if got := m.GetString("missing", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %q", got)
	}
	if got := m.GetInt("bad.int", 5); got != 5 {
		t.Errorf("Expected default for unparsable int, got %d", got)
	}
	if got := m.GetDuration("bad.duration", time.Minute); got != time.Minute {
		t.Errorf("Expected default for unparsable duration, got %s", got)
	}
	if got := m.GetInt("missing"); got != 0 {
		t.Errorf("Expected zero without default, got %d", got)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Expected missing key to be absent")
	}
}

func TestManager_LoadFromEnviron(t *testing.T) {
	m := NewManager()
	m.loadFromEnviron("STATIC", []string{
		"STATIC_PORT=8080",
		"STATIC_MAX_CLIENTS=10",
		"STATICX=ignored",
		"HOME=/root",
		"STATIC_SERVER_NAME=a=b",
		"MALFORMED",
	})

	if got := m.GetInt("port"); got != 8080 {
		t.Errorf("Expected port 8080, got %d", got)
	}
	if got := m.GetInt("max.clients"); got != 10 {
		t.Errorf("Expected max.clients 10, got %d", got)
	}
	if got := m.GetString("server.name"); got != "a=b" {
		t.Errorf("Expected value with '=' kept, got %q", got)
	}
	for _, key := range []string{"home", "staticx", "x", "malformed"} {
		if _, ok := m.Get(key); ok {
			t.Errorf("Expected %q not loaded", key)
		}
	}
}
