package presenter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultWakeCeiling bounds how long one acquisition of the wake resource is
// held without being renewed.
const DefaultWakeCeiling = 10 * time.Minute

// Resource is an exclusive device capability such as a CPU wake lock or a
// Wi-Fi radio lock.
type Resource interface {
	Acquire() error
	Release() error
}

// NopResource does nothing. It stands in where the platform has no such
// capability.
type NopResource struct{}

func (NopResource) Acquire() error { return nil }
func (NopResource) Release() error { return nil }

// Idempotent wraps a Resource so that acquiring a held resource and
// releasing an unheld one are no-ops.
type Idempotent struct {
	mu   sync.Mutex
	r    Resource
	held bool
}

// NewIdempotent wraps r.
func NewIdempotent(r Resource) *Idempotent {
	return &Idempotent{r: r}
}

// Acquire acquires the underlying resource unless it is already held.
func (i *Idempotent) Acquire() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.held {
		return nil
	}
	if err := i.r.Acquire(); err != nil {
		return err
	}
	i.held = true
	return nil
}

// Release releases the underlying resource if held.
func (i *Idempotent) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.held {
		return nil
	}
	i.held = false
	return i.r.Release()
}

// Held reports whether the resource is currently held.
func (i *Idempotent) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.held
}

// CappedResource is an idempotent resource that releases itself once an
// acquisition has been held for longer than the ceiling. Acquiring again
// after expiry takes a fresh acquisition.
type CappedResource struct {
	mu      sync.Mutex
	r       Resource
	ceiling time.Duration
	held    bool
	gen     uint64
	timer   *time.Timer
	logger  *slog.Logger
}

// NewCappedResource wraps r with the given ceiling; a non-positive ceiling
// uses DefaultWakeCeiling.
func NewCappedResource(r Resource, ceiling time.Duration, logger *slog.Logger) *CappedResource {
	if ceiling <= 0 {
		ceiling = DefaultWakeCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CappedResource{r: r, ceiling: ceiling, logger: logger}
}

// Acquire acquires the resource and arms the ceiling timer.
func (c *CappedResource) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return nil
	}
	if err := c.r.Acquire(); err != nil {
		return err
	}
	c.held = true
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.ceiling, func() { c.expire(gen) })
	return nil
}

func (c *CappedResource) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held || c.gen != gen {
		return
	}
	c.held = false
	c.timer = nil
	if err := c.r.Release(); err != nil {
		c.logger.Warn("failed to release resource at ceiling", "error", err)
		return
	}
	c.logger.Warn("resource ceiling reached, released", "ceiling", c.ceiling)
}

// Release releases the resource and disarms the timer.
func (c *CappedResource) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return nil
	}
	c.held = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return c.r.Release()
}

// Held reports whether the resource is currently held.
func (c *CappedResource) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// CommandResource runs one command on acquire and another on release, for
// example "iw dev wlan0 set power_save off" and "... on".
type CommandResource struct {
	AcquireCmd []string
	ReleaseCmd []string
	Timeout    time.Duration
}

func (c *CommandResource) run(args []string) error {
	if len(args) == 0 {
		return nil
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, out)
	}
	return nil
}

func (c *CommandResource) Acquire() error { return c.run(c.AcquireCmd) }
func (c *CommandResource) Release() error { return c.run(c.ReleaseCmd) }

// ProcessResource holds a long-running process for as long as the resource
// is acquired, such as "systemd-inhibit --what=sleep sleep infinity".
type ProcessResource struct {
	Args []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// Acquire starts the process.
func (p *ProcessResource) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}
	if len(p.Args) == 0 {
		return errors.New("process resource has no command")
	}
	cmd := exec.Command(p.Args[0], p.Args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.Args[0], err)
	}
	p.cmd = cmd
	return nil
}

// Release stops the process.
func (p *ProcessResource) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	cmd := p.cmd
	p.cmd = nil
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	_ = cmd.Wait()
	return nil
}
