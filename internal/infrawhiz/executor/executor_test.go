package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/executor"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

type fakeRunner struct {
	name         string
	ran          []string
	connected    []string
	disconnected []string
	closed       bool
}

func (f *fakeRunner) Run(_ context.Context, srv *registry.Server, command string) (*executor.Result, error) {
	f.ran = append(f.ran, srv.ID+":"+command)
	return &executor.Result{Stdout: f.name}, nil
}

func (f *fakeRunner) Connect(_ context.Context, srv *registry.Server) error {
	f.connected = append(f.connected, srv.ID)
	return nil
}

func (f *fakeRunner) Disconnect(id string) { f.disconnected = append(f.disconnected, id) }

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func TestRouter_RoutesByAuthMethod(t *testing.T) {
	sshR, dockerR := &fakeRunner{name: "ssh"}, &fakeRunner{name: "docker"}
	r := executor.NewRouter(sshR, dockerR, 0)

	cases := []struct {
		method registry.AuthMethod
		want   string
	}{
		{registry.AuthPassword, "ssh"},
		{registry.AuthKey, "ssh"},
		{registry.AuthDocker, "docker"},
	}
	for _, tc := range cases {
		res, err := r.Run(context.Background(), &registry.Server{ID: "a", AuthMethod: tc.method}, "uptime")
		if err != nil {
			t.Fatalf("%s: %v", tc.method, err)
		}
		if res.Stdout != tc.want {
			t.Errorf("%s routed to %s, want %s", tc.method, res.Stdout, tc.want)
		}
	}

	if _, err := r.Run(context.Background(), &registry.Server{AuthMethod: "telnet"}, "x"); err == nil {
		t.Fatal("expected error for unknown auth method")
	}

	if err := r.Connect(context.Background(), &registry.Server{ID: "d", AuthMethod: registry.AuthDocker}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(dockerR.connected) != 1 || len(sshR.connected) != 0 {
		t.Fatalf("Connect routed wrongly: ssh=%v docker=%v", sshR.connected, dockerR.connected)
	}

	r.Disconnect("a")
	if len(sshR.disconnected) != 1 || len(dockerR.disconnected) != 1 {
		t.Fatalf("Disconnect not forwarded: %v %v", sshR.disconnected, dockerR.disconnected)
	}
	if err := r.Close(); err != nil || !sshR.closed || !dockerR.closed {
		t.Fatalf("Close: %v", err)
	}
}

func TestRouter_DockerDisabled(t *testing.T) {
	r := executor.NewRouter(&fakeRunner{}, nil, 0)
	_, err := r.Run(context.Background(), &registry.Server{AuthMethod: registry.AuthDocker}, "ls")
	if !errors.Is(err, executor.ErrDockerDisabled) {
		t.Fatalf("expected ErrDockerDisabled, got %v", err)
	}
	if err := r.Connect(context.Background(), &registry.Server{AuthMethod: registry.AuthDocker}); !errors.Is(err, executor.ErrDockerDisabled) {
		t.Fatalf("Connect: expected ErrDockerDisabled, got %v", err)
	}
	r.Disconnect("x")
}
