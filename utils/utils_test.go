package utils

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvFallbacks(t *testing.T) {
	t.Setenv("SNORE_TEST_STR", "value")
	t.Setenv("SNORE_TEST_INT", "12")
	t.Setenv("SNORE_TEST_BAD_INT", "twelve")
	t.Setenv("SNORE_TEST_FLOAT", "0.75")
	t.Setenv("SNORE_TEST_BOOL", "true")
	t.Setenv("SNORE_TEST_EMPTY", "")

	if got := GetEnv("SNORE_TEST_STR", "x"); got != "value" {
		t.Errorf("GetEnv = %q, want value", got)
	}
	if got := GetEnv("SNORE_TEST_EMPTY", "x"); got != "x" {
		t.Errorf("GetEnv on empty = %q, want fallback", got)
	}
	if got := GetEnvInt("SNORE_TEST_INT", 1); got != 12 {
		t.Errorf("GetEnvInt = %d, want 12", got)
	}
	if got := GetEnvInt("SNORE_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt on garbage = %d, want fallback 7", got)
	}
	if got := GetEnvFloat("SNORE_TEST_FLOAT", 0.5); got != 0.75 {
		t.Errorf("GetEnvFloat = %v, want 0.75", got)
	}
	if got := GetEnvBool("SNORE_TEST_BOOL", false); !got {
		t.Errorf("GetEnvBool = false, want true")
	}
	if got := GetEnvBool("SNORE_TEST_MISSING", true); !got {
		t.Errorf("GetEnvBool on missing = false, want fallback true")
	}
}

func TestCreateFolderNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := CreateFolder(dir); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected %s to be a directory (err=%v)", dir, err)
	}
	if err := CreateFolder(dir); err != nil {
		t.Fatalf("CreateFolder on existing dir: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
