package config

import "testing"

func TestParseMaxLoadedAcceptsDocumentedCounts(t *testing.T) {
	cases := []struct {
		name string
		in   []int
	}{
		{"one", []int{2}},
		{"three", []int{2, 1, 1}},
		{"four", []int{2, 1, 1, 3}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := ParseMaxLoaded(c.in); err != nil {
				t.Fatalf("unexpected error for %v: %v", c.in, err)
			}
		})
	}
}

func TestParseMaxLoadedRejectsOtherCounts(t *testing.T) {
	for _, n := range [][]int{{1, 1}, {1, 1, 1, 1, 1}} {
		if _, err := ParseMaxLoaded(n); err == nil {
			t.Fatalf("expected error for %d args, got none", len(n))
		}
	}
}

func TestParseMaxLoadedRejectsNonPositive(t *testing.T) {
	if _, err := ParseMaxLoaded([]int{0}); err == nil {
		t.Fatal("expected error for zero value")
	}
	if _, err := ParseMaxLoaded([]int{-1, 2, 3}); err == nil {
		t.Fatal("expected error for negative value")
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LEMONADE_PORT", "9001")
	cfg := FromEnv()
	if cfg.Port != 9001 {
		t.Fatalf("expected env override to apply, got port %d", cfg.Port)
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.LlamaCppBackend = "tpu"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}
