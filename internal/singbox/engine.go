// Package singbox drives an external sing-box executable: config checks,
// long running instances and short lived probe sessions.
package singbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"subforge/internal/logger"
)

// ErrEngineUnavailable is returned when no usable sing-box binary was detected.
var ErrEngineUnavailable = errors.New("sing-box engine unavailable")

// Engine is everything the rest of the program needs from the proxy engine.
type Engine interface {
	Validate(ctx context.Context, cfg []byte) error
	Start(ctx context.Context, cfg []byte) (Handle, error)
}

// Handle is a running engine instance.
type Handle interface {
	// Done is closed when the instance exits.
	Done() <-chan struct{}
	Close() error
}

type Capabilities struct {
	Available bool   `yaml:"available"`
	Version   string `yaml:"version,omitempty"`
}

// Binary runs the sing-box executable at Path.
type Binary struct {
	Path string
	// StartupGrace is how long Start waits for an early exit before it
	// reports the instance as running.
	StartupGrace time.Duration
}

func NewBinary(path string) *Binary {
	if path == "" {
		path = "sing-box"
	}
	return &Binary{Path: path, StartupGrace: 300 * time.Millisecond}
}

// Detect runs "sing-box version" once. The result is meant to be stored in
// config and passed around instead of re-checking the binary later.
func Detect(ctx context.Context, path string) Capabilities {
	b := NewBinary(path)
	out, err := exec.CommandContext(ctx, b.Path, "version").Output()
	if err != nil {
		logger.Log.Debugf("sing-box not usable at %q: %v", b.Path, err)
		return Capabilities{}
	}
	return Capabilities{Available: true, Version: parseVersion(string(out))}
}

// parseVersion picks "1.9.3" out of "sing-box version 1.9.3\n\nEnvironment: ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func (b *Binary) Validate(ctx context.Context, cfg []byte) error {
	dir, path, err := writeTemp(cfg)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.Path, "check", "-c", path)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if notInstalled(err) {
			return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return fmt.Errorf("config rejected: %s", firstLine(stderr.String(), err))
	}
	return nil
}

// Start launches "sing-box run". The process is not bound to ctx; it lives
// until Close. ctx only bounds the start-up.
func (b *Binary) Start(ctx context.Context, cfg []byte) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("CRITICAL: engine start panic recovered: %v", r)
			err = fmt.Errorf("engine start panic: %v", r)
			h = nil
		}
	}()

	dir, path, err := writeTemp(cfg)
	if err != nil {
		return nil, err
	}

	p := &process{dir: dir, done: make(chan struct{})}
	p.cmd = exec.Command(b.Path, "run", "-D", dir, "-c", path)
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		os.RemoveAll(dir)
		if notInstalled(err) {
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return nil, fmt.Errorf("start engine: %w", err)
	}
	go p.wait()

	grace := time.NewTimer(b.StartupGrace)
	defer grace.Stop()
	select {
	case <-p.done:
		return nil, fmt.Errorf("engine exited during start-up: %s", firstLine(p.stderrText(), p.err))
	case <-ctx.Done():
		p.Close()
		return nil, ctx.Err()
	case <-grace.C:
	}
	logger.Log.Debugf("sing-box started (pid %d)", p.cmd.Process.Pid)
	return p, nil
}

type process struct {
	cmd  *exec.Cmd
	dir  string
	done chan struct{}
	err  error

	mu     sync.Mutex
	stderr lockedBuffer
	once   sync.Once
}

func (p *process) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) stderrText() string { return p.stderr.String() }

// Close kills the process and removes its working directory. Safe to call
// more than once.
func (p *process) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		select {
		case <-p.done:
		default:
			_ = p.cmd.Process.Kill()
			<-p.done
		}
		os.RemoveAll(p.dir)
	})
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(b)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func writeTemp(cfg []byte) (dir, path string, err error) {
	dir, err = os.MkdirTemp("", "subforge-engine-")
	if err != nil {
		return "", "", fmt.Errorf("engine workdir: %w", err)
	}
	path = filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, cfg, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("engine config: %w", err)
	}
	return dir, path, nil
}

func notInstalled(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

func firstLine(s string, fallback error) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	if fallback != nil {
		return fallback.Error()
	}
	return "unknown error"
}
