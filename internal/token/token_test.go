package token

import "testing"

func TestNewProducesFixedLengthHex(t *testing.T) {
	got := New()
	if len(got) != Length {
		t.Fatalf("expected token of length %d, got %d", Length, len(got))
	}
	if !WellFormed(got) {
		t.Fatalf("generated token %q is not well-formed", got)
	}
}

func TestNewDoesNotRepeat(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		tok := New()
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestWellFormed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{
			name:  "generated token",
			input: New(),
			want:  true,
		},
		{
			name:  "too short",
			input: "abc123",
			want:  false,
		},
		{
			name:  "right length but not hex",
			input: "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
			want:  false,
		},
		{
			name:  "empty",
			input: "",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WellFormed(tt.input); got != tt.want {
				t.Fatalf("WellFormed(%q) = %t, want %t", tt.input, got, tt.want)
			}
		})
	}
}
