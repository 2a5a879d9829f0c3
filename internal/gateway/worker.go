// ABOUTME: Isolated execution context: a gRPC stream handler that only exchanges encoded envelopes
// ABOUTME: Processes requests strictly one at a time and ends the stream when it cannot continue

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/coven-dataengine/internal/backend"
)

// Dispatcher runs a named operation. *backend.Backend implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, op backend.Op, payload []byte) (any, error)
}

// request is the envelope sent to the worker. Op stays a plain string so an
// unknown name fails that request instead of the whole channel.
type request struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// response is the envelope sent back; exactly one per request id
type response struct {
	ID     string             `json:"id"`
	Result json.RawMessage    `json:"result,omitempty"`
	Error  *backend.ErrorInfo `json:"error,omitempty"`
}

// worker owns the dispatcher on the server side of the worker stream.
// Nothing but encoded envelopes reaches it.
type worker struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

// Exchange processes envelopes one at a time until the stream ends or an
// envelope cannot be decoded. Returning ends the stream, which tells the
// gateway the channel is gone.
func (w *worker) Exchange(stream grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]) error {
	ctx := stream.Context()
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var req request
		if err := json.Unmarshal(msg.GetValue(), &req); err != nil {
			w.logger.Error("undecodable request envelope, stopping worker", "error", err)
			return status.Errorf(codes.InvalidArgument, "undecodable request envelope: %v", err)
		}

		if err := stream.Send(wrapperspb.Bytes(w.handle(ctx, req))); err != nil {
			return err
		}
	}
}

// handle runs one request and encodes its response
func (w *worker) handle(ctx context.Context, req request) []byte {
	resp := response{ID: req.ID}

	result, err := w.dispatch(ctx, req)
	if err == nil {
		resp.Result, err = json.Marshal(result)
		if err != nil {
			err = fmt.Errorf("%w: encoding %s result: %v", backend.ErrInternal, req.Op, err)
		}
	}
	if err != nil {
		resp.Result = nil
		resp.Error = backend.Describe(err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		// Only reachable with a broken ErrorInfo; report it without the payload
		data, _ = json.Marshal(response{ID: req.ID, Error: &backend.ErrorInfo{Kind: backend.KindInternal, Message: err.Error()}})
	}
	return data
}

func (w *worker) dispatch(ctx context.Context, req request) (any, error) {
	op, err := backend.ParseOp(req.Op)
	if err != nil {
		return nil, err
	}
	return w.dispatcher.Dispatch(ctx, op, req.Payload)
}
