package secrets

import (
	"path/filepath"
	"testing"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	v := NewVault(filepath.Join(t.TempDir(), "test.vault"))
	if err := v.Create("pass"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("CI_TOKEN", "vault-secret"); err != nil {
		t.Fatal(err)
	}
	return NewResolver(v, nil)
}

func TestResolvePlainValuePassesThrough(t *testing.T) {
	t.Parallel()

	r := testResolver(t)
	for _, value := range []string{"Bearer abc", "application/json", "", "$HOME", "{not-a-ref}"} {
		got, err := r.Resolve(value)
		if err != nil {
			t.Errorf("Resolve(%q): %v", value, err)
		}
		if got != value {
			t.Errorf("Resolve(%q) = %q, want passthrough", value, got)
		}
	}
}

func TestResolveVaultReference(t *testing.T) {
	t.Parallel()

	r := testResolver(t)
	got, err := r.Resolve("vault:CI_TOKEN")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "vault-secret" {
		t.Errorf("Resolve = %q", got)
	}

	if _, err := r.Resolve("vault:MISSING"); err == nil {
		t.Error("missing vault secret resolved without error")
	}
}

func TestResolveVaultReferenceWithoutVault(t *testing.T) {
	t.Parallel()

	r := NewResolver(nil, nil)
	if _, err := r.Resolve("vault:CI_TOKEN"); err == nil {
		t.Error("vault reference resolved without a vault")
	}
}

func TestResolveEnvReference(t *testing.T) {
	// Setenv forbids t.Parallel.
	t.Setenv("LOOPCLAW_TEST_TOKEN", "env-secret")

	r := NewResolver(nil, nil)
	got, err := r.Resolve("${LOOPCLAW_TEST_TOKEN}")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "env-secret" {
		t.Errorf("Resolve = %q", got)
	}

	if _, err := r.Resolve("${LOOPCLAW_TEST_UNSET}"); err == nil {
		t.Error("unset env var resolved without error")
	}
}

func TestIsEnvReference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{"${VAR}", true},
		{"${A}", true},
		{"${}", false},
		{"$VAR", false},
		{"{VAR}", false},
		{"prefix ${VAR}", false},
	}
	for _, tt := range tests {
		if got := isEnvReference(tt.value); got != tt.want {
			t.Errorf("isEnvReference(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
