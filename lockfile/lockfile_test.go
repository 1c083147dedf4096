package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLock() *LockFile {
	return &LockFile{
		Version:   Version,
		Checksums: make(map[string]map[string]string),
	}
}

func TestHashDeterministic(t *testing.T) {
	h1 := Hash("hello world")
	h2 := Hash("hello world")
	if h1 != h2 {
		t.Errorf("Hash not deterministic: %s != %s", h1, h2)
	}
	h3 := Hash("different")
	if h1 == h3 {
		t.Errorf("Hash collision: %s == %s", h1, h3)
	}
}

func TestLoadNonExistent(t *testing.T) {
	dir := t.TempDir()
	lf, err := Load(dir)
	if err != nil {
		t.Fatalf("Load returned error for non-existent file: %v", err)
	}
	if lf.Version != Version {
		t.Errorf("Version = %d, want %d", lf.Version, Version)
	}
	if len(lf.Checksums) != 0 {
		t.Errorf("Checksums not empty: %v", lf.Checksums)
	}
	if want := filepath.Join(dir, LockFileName); lf.Path() != want {
		t.Errorf("Path = %q, want %q", lf.Path(), want)
	}
}

func TestSaveAndLoad(t *testing.T) {
	// The output directory does not exist before the first run.
	dir := filepath.Join(t.TempDir(), "out", "ja")

	lf, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	lf.Update("ja", "README.md", Content("en|ja", "# Hello"))
	lf.Update("ja", "guide/intro.md", Content("en|ja", "Intro"))
	lf.Update("de", "README.md", Content("en|de", "# Hello"))

	if err := lf.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	path := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Lock file not created at %s", path)
	}

	lf2, err := Load(dir)
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}

	targets, keys := lf2.Stats()
	if targets != 2 {
		t.Errorf("targets = %d, want 2", targets)
	}
	if keys != 3 {
		t.Errorf("keys = %d, want 3", keys)
	}
	if lf2.IsChanged("ja", "guide/intro.md", Content("en|ja", "Intro")) {
		t.Error("reloaded entry should be unchanged")
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	tests := map[string]string{
		"malformed":      "version: [1\n",
		"future version": "version: 99\nchecksums: {}\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(dir); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIsChanged(t *testing.T) {
	lf := newLock()
	content := Content("en|ja", "Hello")

	// New entry is always changed
	if !lf.IsChanged("ja", "a.md", content) {
		t.Error("new entry should be changed")
	}

	// After update, same content is not changed
	lf.Update("ja", "a.md", content)
	if lf.IsChanged("ja", "a.md", content) {
		t.Error("unchanged entry should not be changed")
	}

	// Modified source is changed
	if !lf.IsChanged("ja", "a.md", Content("en|ja", "Hello!")) {
		t.Error("modified source should be changed")
	}

	// Modified parameters are changed
	if !lf.IsChanged("ja", "a.md", Content("en|ja|glossary=g1", "Hello")) {
		t.Error("modified parameters should be changed")
	}

	// Different target is changed
	if !lf.IsChanged("de", "a.md", content) {
		t.Error("different target should be changed")
	}
}

func TestForget(t *testing.T) {
	lf := newLock()
	lf.Update("ja", "a.md", "x")
	lf.Forget("ja", "a.md")
	lf.Forget("de", "missing.md")
	if !lf.IsChanged("ja", "a.md", "x") {
		t.Error("forgotten entry should be changed")
	}
}

func TestClean(t *testing.T) {
	lf := newLock()

	lf.Update("ja", "a.md", "a")
	lf.Update("ja", "b.md", "b")
	lf.Update("ja", "deleted.md", "d")

	lf.Clean("ja", []string{"a.md", "b.md"})
	lf.Clean("de", []string{"a.md"})

	if lf.IsChanged("ja", "a.md", "a") {
		t.Error("a.md should still be tracked")
	}
	if !lf.IsChanged("ja", "deleted.md", "d") {
		t.Error("deleted.md should be removed by Clean")
	}
}

func TestKey(t *testing.T) {
	got := Key(filepath.Join("docs", "intro.md"))
	if got != "docs/intro.md" {
		t.Errorf("Key = %q, want %q", got, "docs/intro.md")
	}
}

func TestTargets(t *testing.T) {
	lf := newLock()

	lf.Update("ru", "a.md", "a")
	lf.Update("de", "a.md", "a")
	lf.Update("ar", "a.md", "a")

	targets := lf.Targets()
	expected := []string{"ar", "de", "ru"}
	if len(targets) != len(expected) {
		t.Fatalf("targets len = %d, want %d", len(targets), len(expected))
	}
	for i, want := range expected {
		if targets[i] != want {
			t.Errorf("targets[%d] = %q, want %q", i, targets[i], want)
		}
	}
}

func TestSummary(t *testing.T) {
	lf := newLock()

	if lf.Summary() != "empty" {
		t.Errorf("empty summary = %q, want %q", lf.Summary(), "empty")
	}

	lf.Update("ja", "a.md", "a")
	lf.Update("ja", "b.md", "b")
	lf.Update("de", "a.md", "a")
	s := lf.Summary()
	if !strings.HasPrefix(s, "2 targets, 3 files") || !strings.Contains(s, "ja: 2 files") {
		t.Errorf("summary = %q", s)
	}
}

func TestConcurrentAccess(t *testing.T) {
	lf := newLock()

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			key := fmt.Sprintf("doc%d.md", n)
			lf.Update("ja", key, "value")
			lf.IsChanged("ja", key, "value")
			lf.Stats()
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	_, keys := lf.Stats()
	if keys != 10 {
		t.Errorf("keys after concurrent writes = %d, want 10", keys)
	}
}
