package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/credential"
)

func TestCredentialStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	s := NewCredentialStore()

	if ok, _ := s.Exists(ctx, "s1"); ok {
		t.Fatal("Exists on empty store = true")
	}
	if _, err := s.Load(ctx, "s1"); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, "s1", credential.State{"creds": json.RawMessage(`{"id":1}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "s1", credential.State{"keys": json.RawMessage(`[1]`)}); err != nil {
		t.Fatal(err)
	}

	st, err := s.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(st) != 2 {
		t.Errorf("loaded %d entries, want 2", len(st))
	}

	// Mutating the loaded copy must not change the store.
	delete(st, "creds")
	again, _ := s.Load(ctx, "s1")
	if _, ok := again["creds"]; !ok {
		t.Error("Load returned shared state")
	}

	tenants, _ := s.List(ctx)
	if len(tenants) != 1 || tenants[0] != "s1" {
		t.Errorf("List() = %v", tenants)
	}

	if err := s.Delete(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Exists(ctx, "s1"); ok {
		t.Error("Exists after Delete = true")
	}
	if err := s.Delete(ctx, "s1"); err != nil {
		t.Errorf("Delete of missing tenant = %v", err)
	}
}

func TestCredentialStore_SaveNullRemovesEntry(t *testing.T) {
	ctx := context.Background()
	s := NewCredentialStore()
	_ = s.Save(ctx, "s1", credential.State{"k": json.RawMessage(`1`)})
	_ = s.Save(ctx, "s1", credential.State{"k": json.RawMessage(`null`)})

	if ok, _ := s.Exists(ctx, "s1"); ok {
		t.Error("tenant with no entries left should not exist")
	}
}
