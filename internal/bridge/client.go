package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "wabot/pkg/logx"
)

// Options configures the bridge client.
type Options struct {
	// Command and Args launch the worker process (default: node whatsapp_bridge.js).
	Command string
	Args    []string

	// SessionPath is passed to the worker via WABOT_SESSION_PATH.
	SessionPath string

	// StartupTimeout bounds the wait for the READY signal (default 2m).
	StartupTimeout time.Duration
	// CallTimeout is the per-command response deadline (default 30s).
	CallTimeout time.Duration

	Log logx.Logger
}

type callResult struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	command string
	ch      chan callResult
}

// Client drives the external worker process over its stdin/stdout streams.
//
// Outbound commands are correlated with asynchronous responses through a
// per-instance pending set; unsolicited events go to the registered handler.
// Any number of callers may have calls in flight concurrently.
type Client struct {
	opts Options
	log  logx.Logger

	cmd   *exec.Cmd
	stdin io.Writer
	wmu   sync.Mutex // serializes command writes

	pmu     sync.Mutex
	pending map[string]pendingCall
	closed  bool

	readyOnce sync.Once
	readyCh   chan struct{}

	events router

	done chan struct{} // closed when the read loop exits
}

func New(opts Options) *Client {
	if opts.Command == "" {
		opts.Command = "node"
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{"whatsapp_bridge.js"}
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 2 * time.Minute
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		opts:    opts,
		log:     log,
		pending: map[string]pendingCall{},
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetEventHandler registers the single consumer for unsolicited events.
// Events arriving while no handler is registered are dropped.
func (c *Client) SetEventHandler(h EventHandler) { c.events.set(h) }

// Start launches the worker process and blocks until it signals READY,
// the startup timeout elapses, or the process exits.
func (c *Client) Start(ctx context.Context) error {
	cmd := exec.Command(c.opts.Command, c.opts.Args...)
	if c.opts.SessionPath != "" {
		cmd.Env = append(cmd.Environ(), "WABOT_SESSION_PATH="+c.opts.SessionPath)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	c.cmd = cmd

	c.startStreams(ctx, stdin, stdout)
	go c.stderrLoop(stderr)
	go func() {
		// Reap the process so it never zombies; the read loop observes EOF.
		_ = cmd.Wait()
	}()

	c.log.Info("waiting for worker READY",
		logx.String("command", c.opts.Command),
		logx.Duration("timeout", c.opts.StartupTimeout))
	return c.awaitReady(ctx)
}

// startStreams wires the client to explicit streams. Start uses it with the
// worker's pipes; tests use it directly with in-memory pipes.
func (c *Client) startStreams(ctx context.Context, stdin io.Writer, stdout io.Reader) {
	c.stdin = stdin
	go c.readLoop(ctx, stdout)
}

func (c *Client) awaitReady(ctx context.Context) error {
	t := time.NewTimer(c.opts.StartupTimeout)
	defer t.Stop()
	select {
	case <-c.readyCh:
		c.log.Info("worker ready")
		return nil
	case <-t.C:
		return ErrStartupTimeout
	case <-c.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the readiness gate has opened.
func (c *Client) Ready() bool {
	select {
	case <-c.readyCh:
		return true
	default:
		return false
	}
}

// Done is closed once the read loop has terminated.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close terminates the worker process. Outstanding calls resolve with
// ErrTransportClosed once the read loop observes EOF.
func (c *Client) Close() error {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return nil
}

// Call sends one command and waits for the matching response.
//
// It fails with *TimeoutError when the deadline passes, *RemoteError when the
// worker reports failure, and ErrTransportClosed when the worker exits with
// the call outstanding. A response arriving after the timeout is discarded.
func (c *Client) Call(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan callResult, 1)

	c.pmu.Lock()
	if c.closed {
		c.pmu.Unlock()
		return nil, ErrTransportClosed
	}
	c.pending[id] = pendingCall{command: command, ch: ch}
	c.pmu.Unlock()

	line, err := json.Marshal(request{RequestID: id, Command: command, Params: params})
	if err != nil {
		c.unregister(id)
		return nil, err
	}
	line = append(line, '\n')

	c.wmu.Lock()
	_, err = c.stdin.Write(line)
	c.wmu.Unlock()
	if err != nil {
		c.unregister(id)
		return nil, ErrTransportClosed
	}

	t := time.NewTimer(c.opts.CallTimeout)
	defer t.Stop()
	select {
	case res := <-ch:
		return res.data, res.err
	case <-t.C:
		c.unregister(id)
		c.log.Warn("command timed out", logx.String("command", command))
		return nil, &TimeoutError{Command: command}
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

func (c *Client) unregister(id string) {
	c.pmu.Lock()
	delete(c.pending, id)
	c.pmu.Unlock()
}

// readLoop is the single sequential consumer of the worker's stdout.
// It classifies every line and never dies on malformed input.
func (c *Client) readLoop(ctx context.Context, r io.Reader) {
	defer c.shutdown()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var in inbound
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			if strings.Contains(line, readyMarker) {
				c.openReady()
				continue
			}
			// Opaque worker output (QR code text etc). Surface it verbatim.
			c.log.Info("worker output", logx.String("line", line))
			continue
		}

		switch {
		case in.RequestID != "":
			c.resolve(in)
		case in.Event != "":
			var data map[string]any
			if len(in.Data) > 0 {
				_ = json.Unmarshal(in.Data, &data)
			}
			if !c.events.dispatch(ctx, in.Event, data) {
				c.log.Debug("event dropped, no handler", logx.String("event", in.Event))
			}
		default:
			c.log.Debug("unhandled worker record", logx.String("line", line))
		}
	}

	if err := sc.Err(); err != nil {
		c.log.Warn("worker stream error", logx.Err(err))
	}
}

func (c *Client) resolve(in inbound) {
	c.pmu.Lock()
	pc, ok := c.pending[in.RequestID]
	if ok {
		delete(c.pending, in.RequestID)
	}
	c.pmu.Unlock()

	if !ok {
		// Late response for a timed-out or unknown call; drop it.
		c.log.Debug("response for unknown correlation id", logx.String("request_id", in.RequestID))
		return
	}

	if in.Success != nil && *in.Success {
		pc.ch <- callResult{data: in.Data}
		return
	}
	msg := in.Error
	if msg == "" {
		msg = "unknown error"
	}
	c.log.Error("worker returned error response",
		logx.String("command", pc.command),
		logx.String("err", msg))
	pc.ch <- callResult{err: &RemoteError{Command: pc.command, Message: msg}}
}

// shutdown fails every outstanding call and marks the transport closed.
func (c *Client) shutdown() {
	c.pmu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[string]pendingCall{}
	c.pmu.Unlock()

	for _, pc := range pending {
		pc.ch <- callResult{err: ErrTransportClosed}
	}
	close(c.done)
	c.log.Info("worker transport closed", logx.Int("aborted_calls", len(pending)))
}

func (c *Client) openReady() {
	c.readyOnce.Do(func() { close(c.readyCh) })
}

func (c *Client) stderrLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		// The worker prints QR codes and status to stderr; keep it visible.
		c.log.Info("worker stderr", logx.String("line", line))
		if strings.Contains(line, readyMarker) {
			c.openReady()
		}
	}
}
