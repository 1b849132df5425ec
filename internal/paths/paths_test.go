package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAWRELAY_HOME", dir)

	base, err := BaseDir()
	if err != nil {
		t.Fatalf("BaseDir: %v", err)
	}
	if base != dir {
		t.Errorf("BaseDir = %q, want %q", base, dir)
	}

	p, err := DataPath("whatsapp.db")
	if err != nil {
		t.Fatalf("DataPath: %v", err)
	}
	if p != filepath.Join(dir, "whatsapp.db") {
		t.Errorf("DataPath = %q", p)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAWRELAY_HOME", dir)

	got, err := Resolve("", "sessions.db")
	if err != nil || got != filepath.Join(dir, "sessions.db") {
		t.Errorf("Resolve empty = %q, %v", got, err)
	}

	got, err = Resolve("media", "x")
	if err != nil || got != filepath.Join(dir, "media") {
		t.Errorf("Resolve relative = %q, %v", got, err)
	}

	abs := filepath.Join(dir, "abs.db")
	got, err = Resolve(abs, "x")
	if err != nil || got != abs {
		t.Errorf("Resolve absolute = %q, %v", got, err)
	}
}

func TestConfigPathPrefersGlobalWhenNoLocal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLAWRELAY_HOME", dir)

	wd := t.TempDir()
	old, _ := os.Getwd()
	if err := os.Chdir(wd); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(old) //nolint:errcheck

	got, err := ConfigPath()
	if err != nil || got != "" {
		t.Fatalf("expected no config, got %q, %v", got, err)
	}

	global := filepath.Join(dir, "clawrelay.toml")
	if err := os.WriteFile(global, []byte(""), 0600); err != nil {
		t.Fatal(err)
	}
	got, err = ConfigPath()
	if err != nil || got != global {
		t.Errorf("ConfigPath = %q, %v; want %q", got, err, global)
	}
}
