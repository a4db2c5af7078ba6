package defs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListSkipsNonDefinitions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "login.json"), `{"method":"post","url":"https://api.test/login"}`)
	writeFile(t, filepath.Join(dir, "notes.json"), `{"title":"not a request"}`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"url":`)
	writeFile(t, filepath.Join(dir, "readme.md"), "docs")

	entries, err := List(dir, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Name != "login.json" || entries[0].Method != "POST" {
		t.Fatalf("unexpected entry %+v", entries[0])
	}
	if entries[0].URL != "https://api.test/login" {
		t.Fatalf("unexpected url %q", entries[0].URL)
	}
}

func TestListRecursiveSkipsHiddenDirs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{"url":"https://api.test/a"}`)
	writeFile(t, filepath.Join(dir, "sub", "b.json"), `{"method":"put","url":"https://api.test/b"}`)
	writeFile(t, filepath.Join(dir, ".git", "c.json"), `{"url":"https://api.test/c"}`)

	entries, err := List(dir, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Name != "a.json" || entries[0].Method != "GET" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Name != filepath.Join("sub", "b.json") || entries[1].Method != "PUT" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestListFlatIgnoresSubdirs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.json"), `{"url":"https://api.test/top"}`)
	writeFile(t, filepath.Join(dir, "sub", "deep.json"), `{"url":"https://api.test/deep"}`)

	entries, err := List(dir, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "top.json" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
