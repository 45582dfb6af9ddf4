package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	logx "wabot/pkg/logx"
)

// fakeWorker stands in for the node process: it reads command lines from the
// client and writes arbitrary lines back.
type fakeWorker struct {
	t        *testing.T
	requests *bufio.Scanner
	out      *io.PipeWriter
	outMu    sync.Mutex
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeWorker) {
	t.Helper()
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	cmdR, cmdW := io.Pipe()
	outR, outW := io.Pipe()

	c := New(opts)
	c.startStreams(context.Background(), cmdW, outR)

	w := &fakeWorker{t: t, requests: bufio.NewScanner(cmdR), out: outW}
	t.Cleanup(func() {
		_ = outW.Close()
		_ = cmdR.Close()
	})
	return c, w
}

func (w *fakeWorker) nextRequest() request {
	w.t.Helper()
	if !w.requests.Scan() {
		w.t.Fatalf("worker: no request line: %v", w.requests.Err())
	}
	var req request
	if err := json.Unmarshal(w.requests.Bytes(), &req); err != nil {
		w.t.Fatalf("worker: bad request line %q: %v", w.requests.Text(), err)
	}
	return req
}

func (w *fakeWorker) writeLine(line string) {
	w.t.Helper()
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if _, err := io.WriteString(w.out, line+"\n"); err != nil {
		w.t.Fatalf("worker: write: %v", err)
	}
}

func (w *fakeWorker) respond(id string, data any) {
	b, _ := json.Marshal(data)
	w.writeLine(fmt.Sprintf(`{"request_id":%q,"success":true,"data":%s}`, id, b))
}

func (w *fakeWorker) respondError(id, msg string) {
	w.writeLine(fmt.Sprintf(`{"request_id":%q,"success":false,"error":%q}`, id, msg))
}

func TestCallCorrelationUnderConcurrency(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: 5 * time.Second})

	const callers = 8

	// Worker: collect all requests first, then answer them in reverse order
	// so responses never line up with request order.
	go func() {
		reqs := make([]request, 0, callers)
		for i := 0; i < callers; i++ {
			reqs = append(reqs, w.nextRequest())
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			w.respond(reqs[i].RequestID, map[string]any{"echo": reqs[i].Params["n"]})
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			raw, err := c.Call(context.Background(), "ping", map[string]any{"n": n})
			if err != nil {
				errs <- err
				return
			}
			var got struct {
				Echo int `json:"echo"`
			}
			if err := json.Unmarshal(raw, &got); err != nil {
				errs <- err
				return
			}
			if got.Echo != n {
				errs <- fmt.Errorf("caller %d got payload for %d", n, got.Echo)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCallTimeoutAndLateResponse(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: 50 * time.Millisecond})

	reqCh := make(chan request, 1)
	go func() { reqCh <- w.nextRequest() }()

	_, err := c.Call(context.Background(), "slow_command", nil)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Command != "slow_command" {
		t.Fatalf("timeout names command %q", te.Command)
	}

	// The pending slot is gone; a late response must be silently discarded.
	req := <-reqCh
	w.respond(req.RequestID, map[string]any{"late": true})

	// The transport still works for the next caller.
	go func() {
		r := w.nextRequest()
		w.respond(r.RequestID, map[string]any{"ok": true})
	}()
	if _, err := c.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("call after late response: %v", err)
	}
}

func TestRemoteError(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: time.Second})

	go func() {
		req := w.nextRequest()
		w.respondError(req.RequestID, "number not registered")
	}()

	_, err := c.Call(context.Background(), "send_message", map[string]any{"phone_number": "1"})
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if re.Message != "number not registered" || re.Command != "send_message" {
		t.Fatalf("unexpected RemoteError: %+v", re)
	}
}

func TestReadinessGate(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{StartupTimeout: time.Second})

	if c.Ready() {
		t.Fatal("gate open before READY")
	}
	w.writeLine("Initializing puppeteer...")
	w.writeLine("WHATSAPP BRIDGE READY")

	if err := c.awaitReady(context.Background()); err != nil {
		t.Fatalf("awaitReady: %v", err)
	}
	if !c.Ready() {
		t.Fatal("gate still closed after READY")
	}
}

func TestStartupTimeout(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, Options{StartupTimeout: 30 * time.Millisecond})

	if err := c.awaitReady(context.Background()); !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected ErrStartupTimeout, got %v", err)
	}
}

func TestTransportClosedFailsOutstandingCalls(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: 5 * time.Second})

	go func() {
		w.nextRequest()
		_ = w.out.Close() // worker dies with the call outstanding
	}()

	_, err := c.Call(context.Background(), "ping", nil)
	if !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not terminate")
	}

	// New calls fail fast once closed.
	if _, err := c.Call(context.Background(), "ping", nil); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed for new call, got %v", err)
	}
}

func TestEventDispatch(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{})

	type got struct {
		event string
		data  map[string]any
	}
	ch := make(chan got, 1)
	c.SetEventHandler(func(_ context.Context, event string, data map[string]any) {
		ch <- got{event: event, data: data}
	})

	// Unrecognized event names pass through unchanged.
	w.writeLine(`{"event":"presence_update","data":{"from":"201281835346","state":"typing"}}`)

	select {
	case g := <-ch:
		if g.event != "presence_update" {
			t.Fatalf("event = %q", g.event)
		}
		if g.data["state"] != "typing" {
			t.Fatalf("data = %v", g.data)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestEventDroppedWithoutHandler(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: time.Second})

	// No handler registered: the event must be dropped without error and the
	// read loop must keep servicing responses.
	w.writeLine(`{"event":"message_received","data":{"body":"hi"}}`)

	go func() {
		req := w.nextRequest()
		w.respond(req.RequestID, map[string]any{"ok": true})
	}()
	if _, err := c.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("call after dropped event: %v", err)
	}
}

func TestMalformedLinesDoNotKillReadLoop(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: time.Second})

	w.writeLine(`▄▄▄▄▄ ▄ ▄▄ not json at all`)
	w.writeLine(`{"truncated":`)

	go func() {
		req := w.nextRequest()
		w.respond(req.RequestID, map[string]any{"ok": true})
	}()
	if _, err := c.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("call after garbage lines: %v", err)
	}
}

func TestUnknownCorrelationIsDropped(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: time.Second})

	w.writeLine(`{"request_id":"never-issued","success":true,"data":{}}`)

	go func() {
		req := w.nextRequest()
		w.respond(req.RequestID, map[string]any{"ok": true})
	}()
	if _, err := c.Call(context.Background(), "ping", nil); err != nil {
		t.Fatalf("call after unknown correlation: %v", err)
	}
}

func TestSendMessageWrapper(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: time.Second})

	go func() {
		req := w.nextRequest()
		if req.Command != "send_message" {
			t.Errorf("command = %q", req.Command)
		}
		if req.Params["phone_number"] != "201281835346" {
			t.Errorf("params = %v", req.Params)
		}
		w.respond(req.RequestID, map[string]any{
			"id": "msgid-1", "from": "me", "chat_id": "201281835346@c.us",
		})
	}()

	m, err := c.SendMessage(context.Background(), "201281835346", "Good morning", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if m.ID != "msgid-1" || m.Body != "Good morning" || m.ChatID != "201281835346@c.us" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestGetMessagesWrapper(t *testing.T) {
	t.Parallel()
	c, w := newTestClient(t, Options{CallTimeout: time.Second})

	go func() {
		req := w.nextRequest()
		if req.Command != "get_messages" {
			t.Errorf("command = %q", req.Command)
		}
		w.respond(req.RequestID, map[string]any{
			"messages": []map[string]any{
				{"id": "a", "from": "x", "chat_id": "c", "body": "hello", "timestamp": "2026-08-30T08:00:00Z"},
				{"id": "b", "from": "y", "chat_id": "c", "body": "", "type": "image"},
			},
		})
	}()

	msgs, err := c.GetMessages(context.Background(), "c", 2, "", "")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Body != "hello" || msgs[0].Timestamp.IsZero() {
		t.Fatalf("message[0] = %+v", msgs[0])
	}
	if msgs[1].Type != "image" {
		t.Fatalf("message[1].Type = %q", msgs[1].Type)
	}
}
