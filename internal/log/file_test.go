package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileWriter_Write(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	if _, err := fw.Write([]byte(`{"msg":"hello"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, "reef-"+time.Now().Format("2006-01-02")+".jsonl")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(content), `{"msg":"hello"}`) {
		t.Errorf("log file content = %q", content)
	}
}

func TestFileWriter_RotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	tomorrow := time.Now().AddDate(0, 0, 1)
	fw.now = func() time.Time { return tomorrow }

	if _, err := fw.Write([]byte("next day\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	name := "reef-" + tomorrow.Format("2006-01-02") + ".jsonl"
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("expected rotated file %s: %v", name, err)
	}
	target, err := os.Readlink(filepath.Join(dir, "latest"))
	if err != nil {
		t.Fatalf("reading latest symlink: %v", err)
	}
	if target != name {
		t.Errorf("latest -> %s, want %s", target, name)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()

	old := "reef-" + time.Now().AddDate(0, 0, -30).Format("2006-01-02") + ".jsonl"
	recent := "reef-" + time.Now().AddDate(0, 0, -2).Format("2006-01-02") + ".jsonl"
	other := "notes.txt"
	for _, name := range []string{old, recent, other} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	Cleanup(dir, 14)

	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Errorf("old file should be removed")
	}
	for _, name := range []string{recent, other} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be kept: %v", name, err)
		}
	}
}
