package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestValidateID(t *testing.T) {
	valid := []string{"alpha", "user-42", "tenant_1.main"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{"", ".", "..", "../etc", "a/b", "/abs"}
	for _, id := range invalid {
		if err := ValidateID(id); !errors.Is(err, ErrBadSessionID) {
			t.Errorf("ValidateID(%q) = %v, want ErrBadSessionID", id, err)
		}
	}
}

func TestRemoveClosesContainerDB(t *testing.T) {
	s := New(t.TempDir())

	if _, err := s.Device(context.Background(), "alpha"); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	m := s.containers["alpha"]
	s.mu.Unlock()
	if m == nil {
		t.Fatal("container not cached after Device")
	}

	s.Remove("alpha")
	if err := m.db.Ping(); err == nil {
		t.Fatal("database handle still open after Remove")
	}
	if _, err := os.Stat(filepath.Join(s.root, "alpha")); !os.IsNotExist(err) {
		t.Fatalf("credential dir still present: %v", err)
	}

	// A fresh start after removal builds a new container.
	if _, err := s.Device(context.Background(), "alpha"); err != nil {
		t.Fatalf("restart after remove: %v", err)
	}
}

func TestRemoveDeletesCredentialDir(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	dir := filepath.Join(root, "alpha")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "creds.db"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	s.Remove("alpha")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("credential dir still present: %v", err)
	}

	// Escaping ids are ignored rather than deleted.
	s.Remove("../alpha")
}
