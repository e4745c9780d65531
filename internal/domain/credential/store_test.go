package credential

import (
	"encoding/json"
	"testing"
)

func TestState_Merge(t *testing.T) {
	base := State{
		"creds":   json.RawMessage(`{"me":"77010000000"}`),
		"prekey1": json.RawMessage(`"a"`),
	}
	update := State{
		"prekey1": json.RawMessage(`null`),
		"prekey2": json.RawMessage(`"b"`),
	}

	merged := base.Merge(update)

	if _, ok := merged["prekey1"]; ok {
		t.Error("null entry should be removed")
	}
	if string(merged["prekey2"]) != `"b"` {
		t.Errorf("prekey2 = %s", merged["prekey2"])
	}
	if string(merged["creds"]) != `{"me":"77010000000"}` {
		t.Errorf("creds = %s", merged["creds"])
	}
	if _, ok := base["prekey2"]; ok {
		t.Error("Merge modified the receiver")
	}
}

func TestState_MergeIntoNil(t *testing.T) {
	var s State
	merged := s.Merge(State{"creds": json.RawMessage(`{}`)})
	if len(merged) != 1 {
		t.Errorf("len = %d, want 1", len(merged))
	}
}

func TestState_CloneIsDeep(t *testing.T) {
	s := State{"k": json.RawMessage(`"v"`)}
	c := s.Clone()
	c["k"][1] = 'x'
	if string(s["k"]) != `"v"` {
		t.Errorf("Clone shares value bytes: %s", s["k"])
	}
}
