package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileParsesAndRespectsExistingValues(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "env")
	content := `
# comment
export FOO=bar
QUOTED="hello world"
SINGLE='x y'
INVALID_LINE
=novalue
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("FOO", "existing")
	t.Setenv("QUOTED", "")
	t.Setenv("SINGLE", "")
	_ = os.Unsetenv("QUOTED")
	_ = os.Unsetenv("SINGLE")

	if err := loadEnvFile(envPath); err != nil {
		t.Fatalf("load env file: %v", err)
	}

	if got := os.Getenv("FOO"); got != "existing" {
		t.Fatalf("expected existing FOO preserved, got %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello world" {
		t.Fatalf("expected QUOTED loaded, got %q", got)
	}
	if got := os.Getenv("SINGLE"); got != "x y" {
		t.Fatalf("expected SINGLE loaded, got %q", got)
	}
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line   string
		key    string
		val    string
		wantOK bool
	}{
		{"A=1", "A", "1", true},
		{"  export B = two  ", "B", "two", true},
		{`C="x=y"`, "C", "x=y", true},
		{`D='mismatch"`, "D", `'mismatch"`, true},
		{"# E=1", "", "", false},
		{"", "", "", false},
		{"noequals", "", "", false},
	}
	for _, tt := range tests {
		key, val, ok := parseEnvLine(tt.line)
		if ok != tt.wantOK || key != tt.key || val != tt.val {
			t.Errorf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.line, key, val, ok, tt.key, tt.val, tt.wantOK)
		}
	}
}

func TestLoadEnvFilesFromExplicitPath(t *testing.T) {
	tmp := t.TempDir()
	envPath := filepath.Join(tmp, "threadrelay.env")
	if err := os.WriteFile(envPath, []byte("EXPLICIT_KEY=42\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("HOME", filepath.Join(tmp, "home"))
	t.Setenv("THREADRELAY_ENV_FILE", envPath)
	t.Setenv("EXPLICIT_KEY", "")
	_ = os.Unsetenv("EXPLICIT_KEY")

	loaded := LoadEnvFiles()

	if got := os.Getenv("EXPLICIT_KEY"); got != "42" {
		t.Fatalf("expected EXPLICIT_KEY loaded from explicit env file, got %q", got)
	}
	if len(loaded) != 1 || loaded[0] != envPath {
		t.Fatalf("expected only the explicit file to load, got %v", loaded)
	}
}

func TestLoadEnvFilesExplicitWinsOverHome(t *testing.T) {
	tmp := t.TempDir()
	home := filepath.Join(tmp, "home")
	homeEnv := filepath.Join(home, ConfigDir, "env")
	if err := os.MkdirAll(filepath.Dir(homeEnv), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(homeEnv, []byte("SHARED_KEY=home\nHOME_ONLY=yes\n"), 0o600); err != nil {
		t.Fatalf("write home env: %v", err)
	}
	explicit := filepath.Join(tmp, "explicit.env")
	if err := os.WriteFile(explicit, []byte("SHARED_KEY=explicit\n"), 0o600); err != nil {
		t.Fatalf("write explicit env: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("THREADRELAY_ENV_FILE", explicit)
	t.Setenv("SHARED_KEY", "")
	t.Setenv("HOME_ONLY", "")
	_ = os.Unsetenv("SHARED_KEY")
	_ = os.Unsetenv("HOME_ONLY")

	LoadEnvFiles()

	if got := os.Getenv("SHARED_KEY"); got != "explicit" {
		t.Fatalf("expected explicit file to win, got %q", got)
	}
	if got := os.Getenv("HOME_ONLY"); got != "yes" {
		t.Fatalf("expected home env file to fill gaps, got %q", got)
	}
}
