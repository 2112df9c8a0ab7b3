package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bdobrica/InfraWhiz/common/retry"
	"github.com/bdobrica/InfraWhiz/internal/infrawhiz/registry"
)

// SSHConfig configures an SSHPool.
type SSHConfig struct {
	// KnownHostsFile enables host key verification. When empty any host key
	// is accepted and a warning is logged once.
	KnownHostsFile string
	DialTimeout    time.Duration
	// IdleTimeout closes connections unused for this long. Zero disables
	// the sweeper.
	IdleTimeout time.Duration
	Dial        retry.Config
}

type sshConn struct {
	client   *ssh.Client
	key      string
	lastUsed time.Time
}

// SSHPool caches one SSH client per server and reuses it across commands.
type SSHPool struct {
	cfg         SSHConfig
	hostKeyFunc ssh.HostKeyCallback

	mu    sync.Mutex
	conns map[string]*sshConn

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSSHPool returns a pool and starts its idle sweeper.
func NewSSHPool(cfg SSHConfig) (*SSHPool, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.Dial.MaxAttempts == 0 {
		cfg.Dial = retry.DefaultConfig
	}
	if cfg.Dial.ShouldRetry == nil {
		cfg.Dial.ShouldRetry = isNetworkError
	}

	var hk ssh.HostKeyCallback
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hk = cb
	} else {
		slog.Warn("ssh host key verification disabled; set INFRAWHIZ_KNOWN_HOSTS to enable it")
		hk = ssh.InsecureIgnoreHostKey()
	}

	p := &SSHPool{
		cfg:         cfg,
		hostKeyFunc: hk,
		conns:       make(map[string]*sshConn),
		stop:        make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		p.wg.Add(1)
		go p.sweep()
	}
	return p, nil
}

// Run executes command in a fresh session on the server's cached client.
// A stale cached client is replaced once before giving up.
func (p *SSHPool) Run(ctx context.Context, srv *registry.Server, command string) (*Result, error) {
	start := time.Now()
	for attempt := 0; attempt < 2; attempt++ {
		client, err := p.client(ctx, srv)
		if err != nil {
			return nil, err
		}
		sess, err := client.NewSession()
		if err != nil {
			slog.Debug("ssh session failed, reconnecting", "server_id", srv.ID, "err", err)
			p.Disconnect(srv.ID)
			continue
		}
		res, err := runSession(ctx, sess, command)
		if err != nil {
			return nil, err
		}
		res.Duration = time.Since(start)
		return res, nil
	}
	return nil, fmt.Errorf("ssh %s: could not open a session", srv.Name)
}

func runSession(ctx context.Context, sess *ssh.Session, command string) (*Result, error) {
	defer sess.Close()
	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		return nil, ctx.Err()
	}

	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.As(err, &missing):
		res.ExitCode = -1
	default:
		return nil, err
	}
	return res, nil
}

// Connect dials the server unless a client is already cached.
func (p *SSHPool) Connect(ctx context.Context, srv *registry.Server) error {
	_, err := p.client(ctx, srv)
	return err
}

// Disconnect closes and forgets the server's client.
func (p *SSHPool) Disconnect(serverID string) {
	p.mu.Lock()
	c, ok := p.conns[serverID]
	delete(p.conns, serverID)
	p.mu.Unlock()
	if ok {
		c.client.Close()
		slog.Info("ssh disconnected", "server_id", serverID)
	}
}

// Connected reports whether a client is cached for the server.
func (p *SSHPool) Connected(serverID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[serverID]
	return ok
}

// Close stops the sweeper and closes every client.
func (p *SSHPool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*sshConn)
	p.mu.Unlock()
	for _, c := range conns {
		c.client.Close()
	}
	return nil
}

// CloseIdle closes clients unused since before cutoff and returns how many
// were closed.
func (p *SSHPool) CloseIdle(cutoff time.Time) int {
	p.mu.Lock()
	var idle []*sshConn
	for id, c := range p.conns {
		if c.lastUsed.Before(cutoff) {
			idle = append(idle, c)
			delete(p.conns, id)
		}
	}
	p.mu.Unlock()
	for _, c := range idle {
		c.client.Close()
	}
	return len(idle)
}

func (p *SSHPool) sweep() {
	defer p.wg.Done()
	interval := p.cfg.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case now := <-t.C:
			if n := p.CloseIdle(now.Add(-p.cfg.IdleTimeout)); n > 0 {
				slog.Info("closed idle ssh connections", "count", n)
			}
		}
	}
}

func (p *SSHPool) client(ctx context.Context, srv *registry.Server) (*ssh.Client, error) {
	key := connKey(srv)
	p.mu.Lock()
	if c, ok := p.conns[srv.ID]; ok {
		if c.key == key {
			c.lastUsed = time.Now()
			p.mu.Unlock()
			return c.client, nil
		}
		// Settings changed since the client was dialled.
		delete(p.conns, srv.ID)
		c.client.Close()
	}
	p.mu.Unlock()

	cfg, err := p.clientConfig(srv)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(srv.Hostname, strconv.Itoa(srv.Port))

	var client *ssh.Client
	err = retry.Do(ctx, p.cfg.Dial, func() error {
		var dialErr error
		client, dialErr = dialContext(ctx, addr, cfg)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("ssh connect %s (%s): %w", srv.Name, addr, err)
	}
	slog.Info("ssh connected", "server_id", srv.ID, "addr", addr)

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[srv.ID]; ok && existing.key == key {
		client.Close()
		existing.lastUsed = time.Now()
		return existing.client, nil
	}
	p.conns[srv.ID] = &sshConn{client: client, key: key, lastUsed: time.Now()}
	return client, nil
}

func (p *SSHPool) clientConfig(srv *registry.Server) (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:            srv.Username,
		HostKeyCallback: p.hostKeyFunc,
		Timeout:         p.cfg.DialTimeout,
	}
	switch srv.AuthMethod {
	case registry.AuthPassword:
		cfg.Auth = []ssh.AuthMethod{ssh.Password(srv.Password)}
	case registry.AuthKey:
		pem, err := os.ReadFile(srv.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key for %s: %w", srv.Name, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key for %s: %w", srv.Name, err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	default:
		return nil, fmt.Errorf("ssh: unsupported auth method %q", srv.AuthMethod)
	}
	return cfg, nil
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// isNetworkError reports whether a dial failed below the SSH handshake.
// Authentication and host key failures will not improve on retry.
func isNetworkError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

func connKey(srv *registry.Server) string {
	return fmt.Sprintf("%s|%s|%d|%s|%s|%s", srv.AuthMethod, srv.Hostname, srv.Port, srv.Username, srv.KeyPath, srv.UpdatedAt.Format(time.RFC3339Nano))
}
