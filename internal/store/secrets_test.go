package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSealer_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	s, err := newSealer(dir)
	if err != nil {
		t.Fatalf("newSealer() error: %v", err)
	}

	sealed, err := s.Seal("sk-secret")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if sealed == "sk-secret" {
		t.Error("Seal() returned the plaintext")
	}

	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if plain != "sk-secret" {
		t.Errorf("Open() = %q, want sk-secret", plain)
	}
}

func TestSealer_KeyPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	s1, err := newSealer(dir)
	if err != nil {
		t.Fatalf("newSealer() error: %v", err)
	}
	sealed, err := s1.Seal("value")
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// A second sealer over the same dir must reuse the key file.
	s2, err := newSealer(dir)
	if err != nil {
		t.Fatalf("second newSealer() error: %v", err)
	}
	plain, err := s2.Open(sealed)
	if err != nil {
		t.Fatalf("Open() with reloaded key error: %v", err)
	}
	if plain != "value" {
		t.Errorf("Open() = %q, want value", plain)
	}
}

func TestSealer_CorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "keys", "secret.key")
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, []byte("not-hex"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := newSealer(dir); err == nil {
		t.Error("newSealer() with corrupt key file should fail")
	}
}

func TestSealer_OpenGarbage(t *testing.T) {
	s, err := newSealer(t.TempDir())
	if err != nil {
		t.Fatalf("newSealer() error: %v", err)
	}
	if _, err := s.Open("%%%not-base64%%%"); err == nil {
		t.Error("Open() of garbage should fail")
	}
	if _, err := s.Open("AAAA"); err == nil {
		t.Error("Open() of truncated payload should fail")
	}
}
