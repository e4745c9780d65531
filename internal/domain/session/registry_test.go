package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

type entry struct{ name string }

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry[*entry]()

	first, created := r.GetOrCreate("s1", func() *entry { return &entry{name: "first"} })
	if !created {
		t.Fatal("first GetOrCreate should create")
	}
	second, created := r.GetOrCreate("s1", func() *entry { return &entry{name: "second"} })
	if created {
		t.Fatal("second GetOrCreate should not create")
	}
	if first != second {
		t.Errorf("GetOrCreate returned a different value for the same tenant")
	}
	if got, ok := r.Get("s1"); !ok || got.name != "first" {
		t.Errorf("Get(s1) = %v, %v", got, ok)
	}
}

func TestRegistry_GetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry[*entry]()
	var creates atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate("tenant", func() *entry {
				creates.Add(1)
				return &entry{}
			})
		}()
	}
	wg.Wait()

	if n := creates.Load(); n != 1 {
		t.Errorf("create called %d times, want 1", n)
	}
}

func TestRegistry_CompareAndDelete(t *testing.T) {
	r := NewRegistry[*entry]()
	old, _ := r.GetOrCreate("s1", func() *entry { return &entry{name: "old"} })

	if !r.CompareAndDelete("s1", old) {
		t.Fatal("CompareAndDelete with current value should succeed")
	}
	replacement, _ := r.GetOrCreate("s1", func() *entry { return &entry{name: "new"} })

	if r.CompareAndDelete("s1", old) {
		t.Fatal("CompareAndDelete with a stale value removed the replacement")
	}
	if got, _ := r.Get("s1"); got != replacement {
		t.Errorf("replacement entry lost")
	}
}

func TestRegistry_DeleteAndLen(t *testing.T) {
	r := NewRegistryWithShards[*entry](4)
	for i := 0; i < 10; i++ {
		r.GetOrCreate(fmt.Sprintf("t%d", i), func() *entry { return &entry{} })
	}
	if r.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", r.Len())
	}

	t3, _ := r.Get("t3")
	if !r.CompareAndDelete("t3", t3) {
		t.Fatal("CompareAndDelete(t3) removed nothing")
	}
	if r.CompareAndDelete("t3", t3) {
		t.Fatal("CompareAndDelete(t3) twice removed an entry")
	}
	if r.Len() != 9 {
		t.Errorf("Len() = %d, want 9", r.Len())
	}

	seen := 0
	r.Range(func(string, *entry) bool { seen++; return true })
	if seen != 9 {
		t.Errorf("Range visited %d, want 9", seen)
	}

	drained := r.Drain()
	if len(drained) != 9 || r.Len() != 0 {
		t.Errorf("Drain returned %d entries, %d left", len(drained), r.Len())
	}
}

func TestRegistry_ZeroShards(t *testing.T) {
	r := NewRegistryWithShards[*entry](0)
	r.GetOrCreate("x", func() *entry { return &entry{} })
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}
