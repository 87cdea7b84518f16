package runtime

import "testing"

func TestStore_UpdateAndGet(t *testing.T) {
	s := NewStore[int]()
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected empty store to have no entries")
	}
	s.Update(map[string]int{"a": 1, "b": 2})
	v, ok := s.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected a=1, got %v ok=%v", v, ok)
	}
	if keys := s.Keys(); len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
}

func TestStore_ClearEmptiesMap(t *testing.T) {
	s := NewStore[int]()
	s.Update(map[string]int{"a": 1})
	s.Clear()
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected Clear to remove entries")
	}
}

func TestStore_UpdateReplacesWholeMap(t *testing.T) {
	s := NewStore[int]()
	s.Update(map[string]int{"a": 1, "b": 2})
	s.Update(map[string]int{"c": 3})
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected full replacement to drop stale entries")
	}
	if v, ok := s.Get("c"); !ok || v != 3 {
		t.Fatalf("expected c=3, got %v ok=%v", v, ok)
	}
}
