// Package registry manages the servers InfraWhiz can reach: their addresses,
// login names, and credentials. Passwords are sealed before they are stored.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/InfraWhiz/common/crypto"
	"github.com/bdobrica/InfraWhiz/common/wire"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/store"
)

// AuthMethod selects how commands reach a server.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	// AuthDocker runs commands inside a local container named by Hostname.
	AuthDocker AuthMethod = "docker"
)

var (
	ErrNotFound = store.ErrNotFound
	// ErrInvalid wraps every input validation failure.
	ErrInvalid = errors.New("registry: invalid server")
	// ErrNoMasterKey is returned when a password must be stored but no
	// master key is configured.
	ErrNoMasterKey = errors.New("registry: password authentication requires a master key")
)

// Server is a registered server with its credentials opened.
type Server struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Hostname   string     `json:"hostname"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	AuthMethod AuthMethod `json:"authMethod"`
	Password   string     `json:"-"`
	KeyPath    string     `json:"keyPath,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Info is the credential-free view sent to consoles.
func (s *Server) Info() wire.ServerInfo {
	return wire.ServerInfo{
		ID:         s.ID,
		Name:       s.Name,
		Hostname:   s.Hostname,
		Port:       s.Port,
		Username:   s.Username,
		AuthMethod: string(s.AuthMethod),
	}
}

// Input describes a server to add or the new state of one to update. On
// update an empty Password keeps the stored one.
type Input struct {
	Name       string `json:"name"`
	Hostname   string `json:"hostname"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	AuthMethod string `json:"authMethod"`
	Password   string `json:"password"`
	KeyPath    string `json:"keyPath"`
}

// Registry is safe for concurrent use.
type Registry struct {
	store  *store.Store
	sealer *crypto.Sealer

	mu        sync.Mutex
	onRemoved []func(id string)
}

// New returns a Registry. sealer may be nil, in which case only key and
// docker servers can be registered.
func New(s *store.Store, sealer *crypto.Sealer) *Registry {
	return &Registry{store: s, sealer: sealer}
}

// OnRemoved registers fn to be called after a server is deleted.
func (r *Registry) OnRemoved(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemoved = append(r.onRemoved, fn)
}

// Add validates and stores a new server.
func (r *Registry) Add(ctx context.Context, in Input) (*Server, error) {
	srv := &Server{ID: uuid.New().String()}
	if err := r.apply(srv, in, true); err != nil {
		return nil, err
	}
	row, err := r.toRow(srv)
	if err != nil {
		return nil, err
	}
	if err := r.store.CreateServer(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, fmt.Errorf("%w: name %q is already in use", ErrInvalid, srv.Name)
		}
		return nil, err
	}
	srv.CreatedAt, srv.UpdatedAt = row.CreatedAt, row.UpdatedAt
	slog.Info("server registered", "server_id", srv.ID, "name", srv.Name, "auth", srv.AuthMethod)
	return srv, nil
}

// Update replaces a server's settings.
func (r *Registry) Update(ctx context.Context, id string, in Input) (*Server, error) {
	srv, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.apply(srv, in, false); err != nil {
		return nil, err
	}
	row, err := r.toRow(srv)
	if err != nil {
		return nil, err
	}
	row.CreatedAt = srv.CreatedAt
	if err := r.store.UpdateServer(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, fmt.Errorf("%w: name %q is already in use", ErrInvalid, srv.Name)
		}
		return nil, err
	}
	srv.UpdatedAt = row.UpdatedAt
	return srv, nil
}

// Remove deletes a server and notifies OnRemoved listeners.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.store.DeleteServer(ctx, id); err != nil {
		return err
	}
	slog.Info("server removed", "server_id", id)
	r.mu.Lock()
	listeners := append(([]func(string))(nil), r.onRemoved...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(id)
	}
	return nil
}

// Get returns a server with its password opened.
func (r *Registry) Get(ctx context.Context, id string) (*Server, error) {
	row, err := r.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.fromRow(row)
}

// Resolve finds a server by id or by case-insensitive name.
func (r *Registry) Resolve(ctx context.Context, ref string) (*Server, error) {
	if srv, err := r.Get(ctx, ref); err == nil {
		return srv, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if strings.EqualFold(s.Name, ref) {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// List returns every server ordered by name.
func (r *Registry) List(ctx context.Context) ([]*Server, error) {
	rows, err := r.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Server, 0, len(rows))
	for _, row := range rows {
		srv, err := r.fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, nil
}

func (r *Registry) apply(srv *Server, in Input, creating bool) error {
	srv.Name = strings.TrimSpace(in.Name)
	srv.Hostname = strings.TrimSpace(in.Hostname)
	srv.Username = strings.TrimSpace(in.Username)
	srv.KeyPath = strings.TrimSpace(in.KeyPath)
	srv.Port = in.Port
	if srv.Port == 0 {
		srv.Port = 22
	}
	if in.Password != "" || creating {
		srv.Password = in.Password
	}

	switch method := AuthMethod(strings.ToLower(strings.TrimSpace(in.AuthMethod))); method {
	case "":
		switch {
		case srv.Password != "":
			srv.AuthMethod = AuthPassword
		default:
			srv.AuthMethod = AuthKey
		}
	case AuthPassword, AuthKey, AuthDocker:
		srv.AuthMethod = method
	default:
		return fmt.Errorf("%w: unknown auth method %q", ErrInvalid, in.AuthMethod)
	}

	switch {
	case srv.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case strings.EqualFold(srv.Name, "all"):
		return fmt.Errorf("%w: %q is reserved", ErrInvalid, srv.Name)
	case srv.Hostname == "":
		return fmt.Errorf("%w: hostname is required", ErrInvalid)
	case srv.Port < 1 || srv.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, srv.Port)
	case srv.AuthMethod != AuthDocker && srv.Username == "":
		return fmt.Errorf("%w: username is required", ErrInvalid)
	case srv.AuthMethod == AuthPassword && srv.Password == "":
		return fmt.Errorf("%w: password is required for password authentication", ErrInvalid)
	case srv.AuthMethod == AuthKey && srv.KeyPath == "":
		return fmt.Errorf("%w: keyPath is required for key authentication", ErrInvalid)
	}
	if srv.AuthMethod != AuthPassword {
		srv.Password = ""
	}
	return nil
}

func (r *Registry) toRow(srv *Server) (*store.ServerRow, error) {
	row := &store.ServerRow{
		ID:         srv.ID,
		Name:       srv.Name,
		Hostname:   srv.Hostname,
		Port:       srv.Port,
		Username:   srv.Username,
		AuthMethod: string(srv.AuthMethod),
		KeyPath:    srv.KeyPath,
	}
	if srv.Password != "" {
		if r.sealer == nil {
			return nil, ErrNoMasterKey
		}
		sealed, err := r.sealer.Seal(srv.Password, srv.ID)
		if err != nil {
			return nil, fmt.Errorf("seal password: %w", err)
		}
		row.PasswordSealed = sealed
	}
	return row, nil
}

func (r *Registry) fromRow(row *store.ServerRow) (*Server, error) {
	srv := &Server{
		ID:         row.ID,
		Name:       row.Name,
		Hostname:   row.Hostname,
		Port:       row.Port,
		Username:   row.Username,
		AuthMethod: AuthMethod(row.AuthMethod),
		KeyPath:    row.KeyPath,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if len(row.PasswordSealed) > 0 {
		if r.sealer == nil {
			return nil, ErrNoMasterKey
		}
		pw, err := r.sealer.Open(row.PasswordSealed, row.ID)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", row.ID, err)
		}
		srv.Password = pw
	}
	return srv, nil
}
