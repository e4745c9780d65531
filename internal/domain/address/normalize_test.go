package address

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	const want = "77012345678@s.whatsapp.net"
	n := Default()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"international formatted", "+7 701 234 56 78", want},
		{"trunk prefix", "87012345678", want},
		{"national number", "7012345678", want},
		{"punctuation", "8 (701) 234-56-78", want},
		{"already routable", want, want},
		{"other length kept", "+44 20 7946 0018", "442079460018@s.whatsapp.net"},
		{"eleven digits without trunk", "77011234567", "77011234567@s.whatsapp.net"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := Default()
	for _, raw := range []string{"+7 701 234 56 78", "87012345678", "7012345678", "12345"} {
		once, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", raw, err)
		}
		twice, err := n.Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", once, err)
		}
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q then %q", raw, once, twice)
		}
	}
}

func TestNormalize_NoDigits(t *testing.T) {
	n := Default()
	for _, raw := range []string{"", "abc", "+() -", "@s.whatsapp.net"} {
		if _, err := n.Normalize(raw); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Normalize(%q) error = %v, want ErrInvalidAddress", raw, err)
		}
	}
}

func TestNew_CustomPlan(t *testing.T) {
	n := New("49", "0", 10, "@c.example")
	got, err := n.Normalize("0301 2345678")
	if err != nil {
		t.Fatal(err)
	}
	if got != "493012345678@c.example" {
		t.Errorf("got %q", got)
	}
}
