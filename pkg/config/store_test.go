package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tempStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store
}

func TestNewFileStore_DefaultPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	store, err := NewFileStore("")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if !strings.HasSuffix(store.Path(), filepath.Join(".mend", "config.json")) {
		t.Errorf("Default path should end in .mend/config.json, got %q", store.Path())
	}
}

func TestNewFileStore_MissingFileStartsEmpty(t *testing.T) {
	store := tempStore(t)

	all, err := store.GetAll()
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected empty store for missing file, got %v", all)
	}
	if store.IsModified() {
		t.Error("Fresh store should not be modified")
	}
}

func TestNewFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := NewFileStore(path); err == nil {
		t.Error("Expected error for unparseable config file")
	}
}

func TestFileStore_SectionRoundTrip(t *testing.T) {
	store := tempStore(t)

	if err := store.SetSection("healing", map[string]interface{}{"max_total_attempts": 5}); err != nil {
		t.Fatalf("SetSection failed: %v", err)
	}
	if !store.IsModified() {
		t.Error("SetSection should mark the store modified")
	}

	got, err := store.GetSection("healing")
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	if got["max_total_attempts"] != 5 {
		t.Errorf("Unexpected section data %v", got)
	}

	missing, err := store.GetSection("nope")
	if err != nil {
		t.Fatalf("GetSection failed for unknown section: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Unknown section should yield an empty map, got %v", missing)
	}
}

func TestFileStore_GetSectionReturnsCopy(t *testing.T) {
	store := tempStore(t)
	store.SetSection("scorer", map[string]interface{}{"threshold": 0.7})

	first, _ := store.GetSection("scorer")
	first["threshold"] = 0.1

	second, _ := store.GetSection("scorer")
	if second["threshold"] != 0.7 {
		t.Errorf("Mutating a returned section should not affect the store, got %v", second)
	}
}

func TestFileStore_SetAllReplacesEverything(t *testing.T) {
	store := tempStore(t)
	store.SetSection("old", map[string]interface{}{"k": "v"})

	err := store.SetAll(map[string]map[string]interface{}{
		"browser": {"headless": true},
	})
	if err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}

	all, _ := store.GetAll()
	if len(all) != 1 {
		t.Fatalf("Expected exactly one section after SetAll, got %v", all)
	}
	if all["browser"]["headless"] != true {
		t.Errorf("Unexpected data after SetAll: %v", all)
	}
}

func TestFileStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	store.SetSection("llm", map[string]interface{}{"model": "gpt-4o"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if store.IsModified() {
		t.Error("Save should clear the modified flag")
	}

	reloaded, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("Reopening store failed: %v", err)
	}
	got, _ := reloaded.GetSection("llm")
	if got["model"] != "gpt-4o" {
		t.Errorf("Reloaded store missing saved data, got %v", got)
	}
}

func TestFileStore_SaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Config file missing after save: %v", err)
	}
}

func TestFileStore_SaveLeavesNoTempFile(t *testing.T) {
	store := tempStore(t)
	store.SetSection("outcome", map[string]interface{}{"enabled": true})

	if err := store.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(store.Path() + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should be gone after a successful save")
	}
}
