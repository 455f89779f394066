package config

import (
	"fmt"
	"sync"
	"testing"
)

// stubSection implements Section with settable data and a forced validation error.
type stubSection struct {
	id          string
	title       string
	data        map[string]interface{}
	validateErr error
}

func (s *stubSection) ID() string          { return s.id }
func (s *stubSection) Title() string       { return s.title }
func (s *stubSection) Description() string { return "stub" }

func (s *stubSection) Data() map[string]interface{} { return s.data }

func (s *stubSection) SetData(data map[string]interface{}) error {
	s.data = data
	return nil
}

func (s *stubSection) Validate() error { return s.validateErr }

func (s *stubSection) Reset() { s.data = map[string]interface{}{} }

// memStore implements Store in memory with injectable load/save failures.
type memStore struct {
	sections map[string]map[string]interface{}
	loadErr  error
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{sections: map[string]map[string]interface{}{}}
}

func (m *memStore) Load() error { return m.loadErr }
func (m *memStore) Save() error { return m.saveErr }

func (m *memStore) GetSection(sectionID string) (map[string]interface{}, error) {
	if data, ok := m.sections[sectionID]; ok {
		return data, nil
	}
	return map[string]interface{}{}, nil
}

func (m *memStore) SetSection(sectionID string, data map[string]interface{}) error {
	m.sections[sectionID] = data
	return nil
}

func (m *memStore) GetAll() (map[string]map[string]interface{}, error) {
	return m.sections, nil
}

func (m *memStore) SetAll(data map[string]map[string]interface{}) error {
	m.sections = data
	return nil
}

func TestManager_Empty(t *testing.T) {
	store := newMemStore()
	manager := NewManager(store)

	if manager.Store() != store {
		t.Error("Store() should return the store the manager was built with")
	}
	if got := manager.GetSections(); len(got) != 0 {
		t.Errorf("Fresh manager should have no sections, got %d", len(got))
	}
	if _, ok := manager.GetSection("anything"); ok {
		t.Error("GetSection on a fresh manager should report not found")
	}

	// ResetAll with no sections must not panic
	manager.ResetAll()
}

func TestManager_RegisterSection(t *testing.T) {
	manager := NewManager(newMemStore())

	if err := manager.RegisterSection(&stubSection{id: "alpha", title: "Alpha"}); err != nil {
		t.Fatalf("RegisterSection failed: %v", err)
	}

	got, ok := manager.GetSection("alpha")
	if !ok {
		t.Fatal("Registered section not retrievable")
	}
	if got.ID() != "alpha" {
		t.Errorf("Retrieved section has id %q, want alpha", got.ID())
	}

	if err := manager.RegisterSection(&stubSection{id: "alpha", title: "Again"}); err == nil {
		t.Error("Expected error registering a duplicate section id")
	}
}

func TestManager_GetSections_KeepsRegistrationOrder(t *testing.T) {
	manager := NewManager(newMemStore())
	ids := []string{"driver", "scorer", "healing"}

	for _, id := range ids {
		if err := manager.RegisterSection(&stubSection{id: id}); err != nil {
			t.Fatalf("RegisterSection(%s) failed: %v", id, err)
		}
	}

	sections := manager.GetSections()
	if len(sections) != len(ids) {
		t.Fatalf("Expected %d sections, got %d", len(ids), len(sections))
	}
	for i, id := range ids {
		if sections[i].ID() != id {
			t.Errorf("Position %d holds %q, want %q", i, sections[i].ID(), id)
		}
	}
}

func TestManager_LoadAll(t *testing.T) {
	t.Run("loads every registered section", func(t *testing.T) {
		store := newMemStore()
		store.sections["one"] = map[string]interface{}{"k1": "v1"}
		store.sections["two"] = map[string]interface{}{"k2": "v2"}

		manager := NewManager(store)
		one := &stubSection{id: "one", data: map[string]interface{}{}}
		two := &stubSection{id: "two", data: map[string]interface{}{}}
		manager.RegisterSection(one)
		manager.RegisterSection(two)

		if err := manager.LoadAll(); err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}
		if one.data["k1"] != "v1" || two.data["k2"] != "v2" {
			t.Errorf("Section data not loaded: one=%v two=%v", one.data, two.data)
		}
	})

	t.Run("propagates store load failure", func(t *testing.T) {
		store := newMemStore()
		store.loadErr = fmt.Errorf("disk gone")

		if err := NewManager(store).LoadAll(); err == nil {
			t.Error("Expected store load error to propagate")
		}
	})
}

func TestManager_SaveAll(t *testing.T) {
	t.Run("writes every section to the store", func(t *testing.T) {
		store := newMemStore()
		manager := NewManager(store)
		manager.RegisterSection(&stubSection{id: "one", data: map[string]interface{}{"k1": "v1"}})
		manager.RegisterSection(&stubSection{id: "two", data: map[string]interface{}{"k2": "v2"}})

		if err := manager.SaveAll(); err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}
		if store.sections["one"]["k1"] != "v1" || store.sections["two"]["k2"] != "v2" {
			t.Errorf("Store missing saved data: %v", store.sections)
		}
	})

	t.Run("validation failure blocks the save", func(t *testing.T) {
		store := newMemStore()
		manager := NewManager(store)
		manager.RegisterSection(&stubSection{
			id:          "bad",
			data:        map[string]interface{}{"k": "v"},
			validateErr: fmt.Errorf("out of range"),
		})

		if err := manager.SaveAll(); err == nil {
			t.Error("Expected validation error from SaveAll")
		}
	})

	t.Run("propagates store save failure", func(t *testing.T) {
		store := newMemStore()
		store.saveErr = fmt.Errorf("read-only fs")

		manager := NewManager(store)
		manager.RegisterSection(&stubSection{id: "one", data: map[string]interface{}{}})

		if err := manager.SaveAll(); err == nil {
			t.Error("Expected store save error to propagate")
		}
	})
}

func TestManager_ResetAll(t *testing.T) {
	manager := NewManager(newMemStore())
	one := &stubSection{id: "one", data: map[string]interface{}{"k1": "v1"}}
	two := &stubSection{id: "two", data: map[string]interface{}{"k2": "v2"}}
	manager.RegisterSection(one)
	manager.RegisterSection(two)

	manager.ResetAll()

	if len(one.data) != 0 || len(two.data) != 0 {
		t.Errorf("Sections should be empty after reset: one=%v two=%v", one.data, two.data)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	manager := NewManager(newMemStore())
	manager.RegisterSection(&stubSection{id: "seed"})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			manager.GetSection("seed")
			manager.GetSections()
		}()
		go func(n int) {
			defer wg.Done()
			manager.RegisterSection(&stubSection{id: fmt.Sprintf("section-%d", n)})
		}(i)
	}
	wg.Wait()

	// seed plus the ten registered above
	if got := len(manager.GetSections()); got != 11 {
		t.Errorf("Expected 11 sections after concurrent registration, got %d", got)
	}
}
