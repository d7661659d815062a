package secrets

import (
	"path/filepath"
	"testing"
)

func TestVaultRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.vault")
	v := NewVault(path)

	if v.Exists() {
		t.Fatal("vault exists before Create")
	}
	if err := v.Create("master-pass"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !v.Exists() || !v.IsUnlocked() {
		t.Fatal("vault not usable after Create")
	}

	if err := v.Set("GITHUB_TOKEN", "ghp_abc123"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get("GITHUB_TOKEN")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "ghp_abc123" {
		t.Errorf("Get = %q", got)
	}

	// Absent names return empty, not an error.
	if got, err := v.Get("MISSING"); err != nil || got != "" {
		t.Errorf("Get missing = %q, %v", got, err)
	}

	keys, err := v.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "GITHUB_TOKEN" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestVaultReopenWithPassword(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.vault")
	v := NewVault(path)
	if err := v.Create("master-pass"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("API_KEY", "sk-123"); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	reopened := NewVault(path)
	if err := reopened.Unlock("master-pass"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	got, err := reopened.Get("API_KEY")
	if err != nil || got != "sk-123" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}

func TestVaultWrongPassword(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.vault")
	v := NewVault(path)
	if err := v.Create("right"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("API_KEY", "sk-123"); err != nil {
		t.Fatal(err)
	}

	attacker := NewVault(path)
	if err := attacker.Unlock("wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
}

func TestVaultLocked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.vault")
	v := NewVault(path)
	if err := v.Create("pass"); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	if _, err := v.Get("anything"); err == nil {
		t.Error("Get succeeded on a locked vault")
	}
	if err := v.Set("a", "b"); err == nil {
		t.Error("Set succeeded on a locked vault")
	}
	if err := v.Delete("a"); err == nil {
		t.Error("Delete succeeded on a locked vault")
	}
}

func TestVaultDelete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.vault")
	v := NewVault(path)
	if err := v.Create("pass"); err != nil {
		t.Fatal(err)
	}
	if err := v.Set("A", "1"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("A"); err != nil {
		t.Fatal(err)
	}
	if got, _ := v.Get("A"); got != "" {
		t.Errorf("deleted secret still readable: %q", got)
	}
}
