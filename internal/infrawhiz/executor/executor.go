// Package executor runs shell commands on registered servers, over SSH or,
// for docker targets, through docker exec.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

// ErrDockerDisabled is returned for docker servers when the backend was
// started without a Docker client.
var ErrDockerDisabled = errors.New("executor: docker targets are disabled")

// Result is the outcome of a command that ran. A non-zero ExitCode is not an
// error; errors are reserved for commands that never ran.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes one command on one server.
type Runner interface {
	Run(ctx context.Context, srv *registry.Server, command string) (*Result, error)
	// Connect checks the server is reachable and, where connections are
	// cached, leaves one open for the next Run.
	Connect(ctx context.Context, srv *registry.Server) error
	// Disconnect drops any cached connection to the server.
	Disconnect(serverID string)
	Close() error
}

// Router picks a Runner by the server's auth method.
type Router struct {
	ssh     Runner
	docker  Runner
	timeout time.Duration
}

// NewRouter returns a Router. docker may be nil. timeout bounds every Run;
// zero means no bound beyond the caller's context.
func NewRouter(ssh, docker Runner, timeout time.Duration) *Router {
	return &Router{ssh: ssh, docker: docker, timeout: timeout}
}

func (r *Router) Run(ctx context.Context, srv *registry.Server, command string) (*Result, error) {
	runner, err := r.pick(srv)
	if err != nil {
		return nil, err
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return runner.Run(ctx, srv, command)
}

func (r *Router) Connect(ctx context.Context, srv *registry.Server) error {
	runner, err := r.pick(srv)
	if err != nil {
		return err
	}
	return runner.Connect(ctx, srv)
}

func (r *Router) pick(srv *registry.Server) (Runner, error) {
	switch srv.AuthMethod {
	case registry.AuthDocker:
		if r.docker == nil {
			return nil, ErrDockerDisabled
		}
		return r.docker, nil
	case registry.AuthPassword, registry.AuthKey:
		return r.ssh, nil
	default:
		return nil, fmt.Errorf("executor: unsupported auth method %q", srv.AuthMethod)
	}
}

func (r *Router) Disconnect(serverID string) {
	r.ssh.Disconnect(serverID)
	if r.docker != nil {
		r.docker.Disconnect(serverID)
	}
}

func (r *Router) Close() error {
	var errs []error
	errs = append(errs, r.ssh.Close())
	if r.docker != nil {
		errs = append(errs, r.docker.Close())
	}
	return errors.Join(errs...)
}
