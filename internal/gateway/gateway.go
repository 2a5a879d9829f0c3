// ABOUTME: Isolation gateway forwarding engine operations to an isolated gRPC worker or in-process
// ABOUTME: Correlates concurrent calls by request id and chooses the execution mode once

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/coven-dataengine/internal/backend"
	"github.com/2389/coven-dataengine/internal/config"
)

// ErrChannelFailed is returned for every pending and later call once the
// isolated context has failed or the gateway has been closed.
var ErrChannelFailed = errors.New("isolation channel failed")

// Mode is how operations are executed
type Mode string

const (
	ModeIsolated  Mode = "isolated"
	ModeInProcess Mode = "in-process"
)

// Options configures a Gateway
type Options struct {
	// Isolation is config.IsolationAuto or config.IsolationOff. Empty means auto.
	Isolation string
	// Probe checks whether isolation is usable. Nil uses DefaultProbe.
	Probe  func() error
	Logger *slog.Logger
}

// Gateway is the single entry point for engine operations
type Gateway struct {
	mode       Mode
	dispatcher Dispatcher
	link       *workerLink
	readDone   chan struct{}

	mu      sync.Mutex
	pending map[string]chan reply
	failed  error

	// serializes in-process calls so the backend sees one operation at a time in both modes
	inProcessMu sync.Mutex

	initGroup  singleflight.Group
	initMu     sync.Mutex
	initStatus *backend.InitStatus

	closeOnce sync.Once
	logger    *slog.Logger
}

// New creates a gateway in front of d. The execution mode is decided here
// and never changes: isolation is used unless it is turned off, the probe
// fails or the worker cannot be started.
func New(d Dispatcher, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		mode:       ModeInProcess,
		dispatcher: d,
		pending:    make(map[string]chan reply),
		logger:     logger.With("component", "gateway"),
	}

	if opts.Isolation == config.IsolationOff {
		g.logger.Info("isolation disabled by configuration, running in-process")
		return g
	}

	probe := opts.Probe
	if probe == nil {
		probe = DefaultProbe
	}
	if err := probe(); err != nil {
		g.logger.Warn("isolation unavailable, running in-process", "error", err)
		return g
	}

	link, err := startWorker(d, g.logger.With("context", "worker"))
	if err != nil {
		g.logger.Warn("starting worker failed, running in-process", "error", err)
		return g
	}

	g.link = link
	g.mode = ModeIsolated
	g.readDone = make(chan struct{})
	go g.readLoop()

	g.logger.Info("isolated worker started")
	return g
}

// DefaultProbe checks that a request envelope survives the JSON and
// protobuf encodings the worker transport applies.
func DefaultProbe() error {
	want := request{ID: uuid.New().String(), Op: backend.OpInitialize.String(), Payload: json.RawMessage(`{}`)}
	data, err := json.Marshal(want)
	if err != nil {
		return fmt.Errorf("encoding probe envelope: %w", err)
	}
	wire, err := proto.Marshal(wrapperspb.Bytes(data))
	if err != nil {
		return fmt.Errorf("wrapping probe envelope: %w", err)
	}
	var wrapped wrapperspb.BytesValue
	if err := proto.Unmarshal(wire, &wrapped); err != nil {
		return fmt.Errorf("unwrapping probe envelope: %w", err)
	}
	var got request
	if err := json.Unmarshal(wrapped.GetValue(), &got); err != nil {
		return fmt.Errorf("decoding probe envelope: %w", err)
	}
	if got.ID != want.ID || got.Op != want.Op {
		return errors.New("probe envelope mismatch")
	}
	return nil
}

// Mode reports how operations are executed
func (g *Gateway) Mode() Mode {
	return g.mode
}

// readLoop delivers worker responses until the worker stream ends
func (g *Gateway) readLoop() {
	defer close(g.readDone)

	for {
		raw, err := g.link.recv()
		if errors.Is(err, io.EOF) {
			g.failAll(errors.New("worker exited"))
			return
		}
		if err != nil {
			g.failAll(fmt.Errorf("worker stream: %w", err))
			return
		}
		if err := g.handleResponse(raw); err != nil {
			g.failAll(err)
			return
		}
	}
}

// Call runs op with payload and returns the encoded result. payload is
// encoded as JSON; nil sends no payload. Cancelling ctx abandons the wait
// for the result only; an isolated worker still finishes the request.
func (g *Gateway) Call(ctx context.Context, op backend.Op, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding %s payload: %v", backend.ErrInvalidRequest, op, err)
		}
	}

	if g.mode == ModeInProcess {
		return g.callInProcess(ctx, op, body)
	}
	return g.callIsolated(ctx, op, body)
}

func (g *Gateway) callIsolated(ctx context.Context, op backend.Op, body []byte) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	ch, err := g.register(id)
	if err != nil {
		return nil, err
	}

	env, err := json.Marshal(request{ID: id, Op: op.String(), Payload: body})
	if err != nil {
		g.unregister(id)
		return nil, fmt.Errorf("%w: encoding envelope: %v", backend.ErrInvalidRequest, err)
	}

	if err := g.link.send(env); err != nil {
		// failAll resolves ch, or already has
		g.failAll(fmt.Errorf("sending to worker: %w", err))
		r := <-ch
		return nil, r.err
	}

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		// A late response finds no entry and is dropped
		g.unregister(id)
		return nil, ctx.Err()
	}
}

// callInProcess runs op directly on the dispatcher with the same encoding
// and error flattening the worker applies.
func (g *Gateway) callInProcess(ctx context.Context, op backend.Op, body []byte) (json.RawMessage, error) {
	g.mu.Lock()
	failed := g.failed
	g.mu.Unlock()
	if failed != nil {
		return nil, failed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.inProcessMu.Lock()
	defer g.inProcessMu.Unlock()

	w := worker{dispatcher: g.dispatcher}
	data := w.handle(ctx, request{Op: op.String(), Payload: body})

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding result: %v", backend.ErrInternal, err)
	}
	if resp.Error != nil {
		return nil, resp.Error.Err()
	}
	return resp.Result, nil
}

// Initialize initializes the engine once per gateway. Concurrent callers
// share one in-flight attempt and its outcome. A success is remembered for
// the gateway's lifetime; a failure is not, so a later call retries. The
// attempt is not cancelled when an individual caller's ctx is.
func (g *Gateway) Initialize(ctx context.Context, snapshot []byte) (*backend.InitStatus, error) {
	if st := g.initialized(); st != nil {
		return st, nil
	}

	ch := g.initGroup.DoChan("initialize", func() (any, error) {
		if st := g.initialized(); st != nil {
			return st, nil
		}
		raw, err := g.Call(context.WithoutCancel(ctx), backend.OpInitialize, backend.InitializeRequest{Snapshot: snapshot})
		if err != nil {
			return nil, err
		}
		var st backend.InitStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("%w: decoding initialize result: %v", backend.ErrInternal, err)
		}

		g.initMu.Lock()
		g.initStatus = &st
		g.initMu.Unlock()
		return &st, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		st := *res.Val.(*backend.InitStatus)
		return &st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *Gateway) initialized() *backend.InitStatus {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if g.initStatus == nil {
		return nil
	}
	st := *g.initStatus
	return &st
}

// Close stops the worker and fails outstanding and later calls with
// ErrChannelFailed. The dispatcher is not closed.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.failAll(errors.New("gateway closed"))
		if g.link != nil {
			g.link.close()
			<-g.readDone
		}
		g.logger.Info("gateway closed", "mode", g.mode)
	})
	return nil
}
