package registry_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/InfraWhiz/common/crypto"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

func newTestRegistry(t *testing.T, withKey bool) (*registry.Registry, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var sealer *crypto.Sealer
	if withKey {
		sealer, err = crypto.NewSealerFromHex(strings.Repeat("0f", crypto.KeySize))
		if err != nil {
			t.Fatal(err)
		}
	}
	return registry.New(s, sealer), s
}

func TestAdd_PasswordIsSealed(t *testing.T) {
	r, s := newTestRegistry(t, true)
	ctx := context.Background()

	srv, err := r.Add(ctx, registry.Input{Name: "web-1", Hostname: "10.0.0.5", Username: "ops", Password: "hunter2!"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if srv.AuthMethod != registry.AuthPassword || srv.Port != 22 || srv.ID == "" {
		t.Fatalf("unexpected server: %+v", srv)
	}

	row, err := s.GetServer(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if len(row.PasswordSealed) == 0 || strings.Contains(string(row.PasswordSealed), "hunter2!") {
		t.Fatal("password not sealed at rest")
	}

	got, err := r.Get(ctx, srv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Password != "hunter2!" {
		t.Fatalf("password = %q", got.Password)
	}
}

func TestAdd_PasswordWithoutKey(t *testing.T) {
	r, _ := newTestRegistry(t, false)
	_, err := r.Add(context.Background(), registry.Input{Name: "web-1", Hostname: "h", Username: "ops", Password: "pw12"})
	if !errors.Is(err, registry.ErrNoMasterKey) {
		t.Fatalf("expected ErrNoMasterKey, got %v", err)
	}
	if _, err := r.Add(context.Background(), registry.Input{Name: "web-2", Hostname: "h", Username: "ops", KeyPath: "/k"}); err != nil {
		t.Fatalf("key auth should work without a master key: %v", err)
	}
}

func TestAdd_Validation(t *testing.T) {
	r, _ := newTestRegistry(t, true)
	cases := []struct {
		name string
		in   registry.Input
	}{
		{"missing name", registry.Input{Hostname: "h", Username: "u", KeyPath: "/k"}},
		{"reserved name", registry.Input{Name: "ALL", Hostname: "h", Username: "u", KeyPath: "/k"}},
		{"missing host", registry.Input{Name: "a", Username: "u", KeyPath: "/k"}},
		{"bad port", registry.Input{Name: "a", Hostname: "h", Port: 70000, Username: "u", KeyPath: "/k"}},
		{"missing user", registry.Input{Name: "a", Hostname: "h", KeyPath: "/k"}},
		{"key without path", registry.Input{Name: "a", Hostname: "h", Username: "u", AuthMethod: "key"}},
		{"password without password", registry.Input{Name: "a", Hostname: "h", Username: "u", AuthMethod: "password"}},
		{"unknown method", registry.Input{Name: "a", Hostname: "h", Username: "u", AuthMethod: "telnet"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Add(context.Background(), tc.in); !errors.Is(err, registry.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestUpdate_KeepsPasswordWhenBlank(t *testing.T) {
	r, _ := newTestRegistry(t, true)
	ctx := context.Background()
	srv, err := r.Add(ctx, registry.Input{Name: "web-1", Hostname: "10.0.0.5", Username: "ops", Password: "first-pw"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	updated, err := r.Update(ctx, srv.ID, registry.Input{Name: "web-1", Hostname: "10.0.0.7", Username: "ops", AuthMethod: "password"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Hostname != "10.0.0.7" || updated.Password != "first-pw" {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if _, err := r.Update(ctx, "missing", registry.Input{Name: "x"}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveAndRemove(t *testing.T) {
	r, _ := newTestRegistry(t, true)
	ctx := context.Background()
	srv, err := r.Add(ctx, registry.Input{Name: "Web-1", Hostname: "app", AuthMethod: "docker"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if srv.Port != 22 || srv.Username != "" {
		t.Fatalf("unexpected docker server: %+v", srv)
	}
	if got, err := r.Resolve(ctx, "web-1"); err != nil || got.ID != srv.ID {
		t.Fatalf("Resolve by name: %v %v", got, err)
	}
	if got, err := r.Resolve(ctx, srv.ID); err != nil || got.Name != "Web-1" {
		t.Fatalf("Resolve by id: %v %v", got, err)
	}

	var removed []string
	r.OnRemoved(func(id string) { removed = append(removed, id) })
	if err := r.Remove(ctx, srv.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(removed) != 1 || removed[0] != srv.ID {
		t.Fatalf("listener calls: %v", removed)
	}
	if _, err := r.Resolve(ctx, "web-1"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
	if err := r.Remove(ctx, srv.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("second Remove: %v", err)
	}
}
