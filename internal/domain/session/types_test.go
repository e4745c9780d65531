package session

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTenant(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"store-42", true},
		{"Store_1.main", true},
		{"", false},
		{"..", false},
		{"a/b", false},
		{"has space", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateTenant(tt.id)
			if tt.valid && err != nil {
				t.Errorf("ValidateTenant(%q) = %v, want nil", tt.id, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidTenant) {
				t.Errorf("ValidateTenant(%q) = %v, want ErrInvalidTenant", tt.id, err)
			}
		})
	}
}

func TestSnapshotOf(t *testing.T) {
	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	deadline := since.Add(5 * time.Minute)

	snap := SnapshotOf("s1", AwaitingBootstrap{Token: "qr-1"}, deadline)
	if snap.Status != StatusAwaitingBootstrap || snap.BootstrapToken != "qr-1" {
		t.Errorf("awaiting snapshot = %+v", snap)
	}
	if !snap.IdleDeadline.IsZero() {
		t.Error("idle deadline should only be reported while connected")
	}

	snap = SnapshotOf("s1", Connected{Since: since}, deadline)
	if snap.Status != StatusConnected || snap.BootstrapToken != "" {
		t.Errorf("connected snapshot = %+v", snap)
	}
	if !snap.IdleDeadline.Equal(deadline) || !snap.ConnectedSince.Equal(since) {
		t.Errorf("connected snapshot times = %+v", snap)
	}

	if _, ok := TokenOf(Connecting{}); ok {
		t.Error("TokenOf(Connecting) reported a token")
	}
}
