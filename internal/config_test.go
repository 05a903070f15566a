package internal

import (
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.App.HTTP.Address() != ":8080" {
		t.Errorf("default address = %q", cfg.App.HTTP.Address())
	}
}

func TestHTTPConfig_InvalidPort(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("port 0 should fail validation")
	}
	cfg.App.HTTP.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("port above 65535 should fail validation")
	}
}

func TestSQLiteConfig_PathRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty sqlite path should fail validation")
	}
}

func TestTargetsConfig_EmptyModeDefaultsGit(t *testing.T) {
	cfg := TargetsConfig{Mode: "", GitPath: "/repo"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode with git path should pass: %v", err)
	}
	if cfg.Mode != TargetsModeGit {
		t.Errorf("mode = %q, want %q", cfg.Mode, TargetsModeGit)
	}
}

func TestTargetsConfig_GitModeNeedsPath(t *testing.T) {
	cfg := TargetsConfig{Mode: TargetsModeGit}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("git mode without git_path should fail")
	}
	if !strings.Contains(err.Error(), "git_path is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTargetsConfig_InvalidMode(t *testing.T) {
	cfg := TargetsConfig{Mode: "magic"}
	if err := cfg.Validate(); err == nil {
		t.Error("invalid targets mode should fail validation")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeToken, Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled || cfg.AuthEnabled() {
		t.Errorf("mode = %q, enabled = %v", cfg.Mode, cfg.AuthEnabled())
	}
}

func TestRemoteConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Remotes = []RemoteConfig{{Name: "origin", URL: "https://peer.example.com"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid remote should pass: %v", err)
	}

	cfg.Remotes = []RemoteConfig{{Name: "origin"}}
	if err := cfg.Validate(); err == nil {
		t.Error("remote without URL should fail validation")
	}

	cfg.Remotes = []RemoteConfig{
		{Name: "origin", URL: "https://a.example.com"},
		{Name: "origin", URL: "https://b.example.com"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("duplicate remote names should fail validation")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("unexpected error: %v", err)
	}
}
