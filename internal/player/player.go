package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Event describes playback state updates emitted by mpv.
type Event struct {
	TimePos   *float64
	Duration  *float64
	Paused    *bool
	Volume    *float64
	Muted     *bool
	Buffering *bool // paused-for-cache
	Loaded    bool  // a file finished loading
	Ended     bool  // true when track ended naturally (eof)
	EndReason string
	Err       error
}

// ErrNotConnected is returned by commands issued before Start or after Close.
var ErrNotConnected = errors.New("mpv not connected")

// Options configures the Controller.
type Options struct {
	MPVPath        string
	IPCPath        string
	Logger         *slog.Logger
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	ExtraArgs      []string
	// DropEvents discards events instead of queueing them, for instances
	// whose owner only polls Position and Duration.
	DropEvents bool
}

// Controller manages the mpv process and IPC connection.
type Controller struct {
	opts   Options
	cmd    *exec.Cmd
	conn   net.Conn
	mu     sync.Mutex
	events chan Event
	done   chan struct{}

	state        sync.Mutex
	position     time.Duration
	duration     time.Duration
	paused       bool
	buffering    bool
	pendingStart time.Duration
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		opts:   opts,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}
}

func defaultIPCPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\tones-mpv`
	}
	return filepath.Join(os.TempDir(), "tones-mpv.sock")
}

var spawnSeq atomic.Int64

// UniqueIPCPath returns a socket path no other instance in this process uses.
func UniqueIPCPath() string {
	n := spawnSeq.Add(1)
	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`\\.\pipe\tones-mpv-%d-%d`, os.Getpid(), n)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("tones-mpv-%d-%d.sock", os.Getpid(), n))
}

// Spawn starts an additional mpv instance on its own IPC path.
func Spawn(ctx context.Context, opts Options) (*Controller, error) {
	if opts.IPCPath == "" {
		opts.IPCPath = UniqueIPCPath()
	}
	c := New(opts)
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Start launches mpv (unless disabled) and connects to the IPC socket.
func (c *Controller) Start(ctx context.Context) error {
	c.opts.Logger.Debug("starting player controller", slog.String("ipc_path", c.opts.IPCPath), slog.Bool("disable_process", c.opts.DisableProcess))
	c.mu.Lock()
	select {
	case <-c.done:
		c.done = make(chan struct{})
	default:
	}
	c.mu.Unlock()

	if c.opts.IPCPath == "" {
		c.opts.IPCPath = defaultIPCPath()
	}
	if !c.opts.DisableProcess {
		if err := c.spawnMPV(ctx); err != nil {
			c.opts.Logger.Error("failed to spawn mpv", slog.Any("err", err))
			return err
		}
	}
	if err := c.connect(ctx); err != nil {
		c.opts.Logger.Error("failed to connect to mpv ipc", slog.Any("err", err))
		return err
	}
	if err := c.observeProperties(); err != nil {
		c.opts.Logger.Error("failed to observe mpv properties", slog.Any("err", err))
		return err
	}
	go c.readLoop(c.conn)
	c.opts.Logger.Debug("player controller started", slog.String("ipc_path", c.opts.IPCPath))
	return nil
}

func (c *Controller) spawnMPV(ctx context.Context) error {
	args := []string{
		"--idle=yes",
		"--force-window=no",
		"--no-terminal",
		"--no-video",
		"--input-ipc-server=" + c.opts.IPCPath,
	}
	args = append(args, c.opts.ExtraArgs...)
	c.opts.Logger.Debug("spawning mpv process", slog.String("mpv_path", c.opts.MPVPath), slog.Any("args", args))
	// The process lifetime is bound to Close, not to ctx.
	c.cmd = exec.Command(c.opts.MPVPath, args...)
	if err := c.cmd.Start(); err != nil {
		c.cmd = nil
		return fmt.Errorf("start mpv: %w", err)
	}
	c.opts.Logger.Debug("mpv process started", slog.Int("pid", c.cmd.Process.Pid))
	return nil
}

func (c *Controller) connect(ctx context.Context) error {
	dial := c.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	}
	var conn net.Conn
	var err error
	baseDelay := 50 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	maxRetries := 10
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < maxRetries; i++ {
		conn, err = dial(ctx, "unix", c.opts.IPCPath)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			return nil
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<uint(i))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay += time.Duration(float64(delay) * 0.2 * rng.Float64())
		c.opts.Logger.Debug("mpv ipc connection failed, retrying", slog.Int("attempt", i+1), slog.Any("err", err), slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("connect mpv ipc: %w", err)
}

var observed = []string{"time-pos", "duration", "pause", "volume", "mute", "paused-for-cache"}

func (c *Controller) observeProperties() error {
	for i, p := range observed {
		if err := c.send("observe_property", i+1, p); err != nil {
			return err
		}
	}
	return nil
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) send(args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(map[string]any{"command": args})
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(b, '\n'))
	return err
}

// Load replaces the current file with url and starts it at start.
func (c *Controller) Load(url string, headers map[string]string, start time.Duration) error {
	c.opts.Logger.Debug("loading track", slog.Int("header_count", len(headers)), slog.Duration("start", start))
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headerLines := make([]string, 0, len(keys))
	for _, k := range keys {
		headerLines = append(headerLines, fmt.Sprintf("%s: %s", k, headers[k]))
	}
	if err := c.send("set_property", "http-header-fields", headerLines); err != nil {
		return err
	}

	c.state.Lock()
	c.position, c.duration, c.buffering = 0, 0, false
	c.pendingStart = start
	c.state.Unlock()

	if err := c.send("loadfile", url, "replace"); err != nil {
		c.opts.Logger.Error("failed to send load command", slog.Any("err", err))
		return err
	}
	return nil
}

func (c *Controller) SetPaused(paused bool) error {
	return c.send("set_property", "pause", paused)
}

// SeekTo jumps to an absolute position.
func (c *Controller) SeekTo(pos time.Duration) error {
	if pos < 0 {
		pos = 0
	}
	c.state.Lock()
	c.position = pos
	c.state.Unlock()
	return c.send("seek", pos.Seconds(), "absolute")
}

// Seek moves relative to the current position.
func (c *Controller) Seek(deltaSeconds float64) error {
	return c.send("seek", deltaSeconds, "relative")
}

// SetVolume sets the output level as a 0..1 fraction.
func (c *Controller) SetVolume(vol float64) error {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	return c.send("set_property", "volume", vol*100)
}

func (c *Controller) SetMute(mute bool) error {
	return c.send("set_property", "mute", mute)
}

// Position is the last reported playback position.
func (c *Controller) Position() time.Duration {
	c.state.Lock()
	defer c.state.Unlock()
	return c.position
}

// Duration is the length of the loaded file, zero until mpv reports it.
func (c *Controller) Duration() time.Duration {
	c.state.Lock()
	defer c.state.Unlock()
	return c.duration
}

func (c *Controller) Paused() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.paused
}

func (c *Controller) Buffering() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.buffering
}

// Close quits mpv and releases the IPC connection. It is safe to call more
// than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if c.conn != nil {
		b, _ := json.Marshal(map[string]any{"command": []any{"quit"}})
		_, _ = c.conn.Write(append(b, '\n'))
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
		c.cmd = nil
		if runtime.GOOS != "windows" {
			_ = os.Remove(c.opts.IPCPath)
		}
	}
	return nil
}

func (c *Controller) emit(ev Event) {
	if c.opts.DropEvents {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) readLoop(conn net.Conn) {
	defer close(c.events)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.emit(Event{Err: fmt.Errorf("decode: %w", err)})
			continue
		}
		switch msg.Event {
		case "property-change":
			c.handlePropertyChange(msg)
		case "file-loaded":
			c.state.Lock()
			start := c.pendingStart
			c.pendingStart = 0
			c.state.Unlock()
			if start > 0 {
				_ = c.SeekTo(start)
			}
			c.emit(Event{Loaded: true})
		case "end-file":
			// "stop" happens when we load a new file, "quit" when mpv exits.
			c.emit(Event{Ended: msg.Reason == "eof", EndReason: msg.Reason})
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-c.done:
		default:
			c.emit(Event{Err: err})
		}
	}
}

type ipcMessage struct {
	Event  string `json:"event"`
	Name   string `json:"name"`
	Data   any    `json:"data"`
	Reason string `json:"reason"`
}

func (c *Controller) handlePropertyChange(msg ipcMessage) {
	switch msg.Name {
	case "time-pos":
		if v, ok := toFloat(msg.Data); ok {
			c.state.Lock()
			c.position = seconds(v)
			c.state.Unlock()
			c.emit(Event{TimePos: &v})
		}
	case "duration":
		if v, ok := toFloat(msg.Data); ok {
			c.state.Lock()
			c.duration = seconds(v)
			c.state.Unlock()
			c.emit(Event{Duration: &v})
		}
	case "pause":
		if b, ok := msg.Data.(bool); ok {
			c.state.Lock()
			c.paused = b
			c.state.Unlock()
			c.emit(Event{Paused: &b})
		}
	case "volume":
		if v, ok := toFloat(msg.Data); ok {
			c.emit(Event{Volume: &v})
		}
	case "mute":
		if b, ok := msg.Data.(bool); ok {
			c.emit(Event{Muted: &b})
		}
	case "paused-for-cache":
		if b, ok := msg.Data.(bool); ok {
			c.state.Lock()
			c.buffering = b
			c.state.Unlock()
			c.emit(Event{Buffering: &b})
		}
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
