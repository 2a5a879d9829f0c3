// ABOUTME: In-memory gRPC transport between the gateway and its isolated worker
// ABOUTME: One bidirectional stream over a bufconn listener carries JSON envelopes wrapped in BytesValue

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// bufSize is the in-memory pipe buffer between gateway and worker
	bufSize = 1 << 20

	// maxEnvelope bounds a single envelope; snapshots travel inside them
	maxEnvelope = 1 << 30

	exchangeMethod = "/dataengine.worker.v1.Worker/Exchange"
)

// exchangeServer is implemented by the worker
type exchangeServer interface {
	Exchange(grpc.BidiStreamingServer[wrapperspb.BytesValue, wrapperspb.BytesValue]) error
}

func exchangeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(exchangeServer).Exchange(&grpc.GenericServerStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ServerStream: stream})
}

// workerServiceDesc describes the worker service. Messages are well-known
// BytesValue wrappers, so no generated code is involved.
var workerServiceDesc = grpc.ServiceDesc{
	ServiceName: "dataengine.worker.v1.Worker",
	HandlerType: (*exchangeServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       exchangeHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "dataengine/worker.proto",
}

// workerLink is the gateway's end of the worker stream. It owns the
// in-memory listener, the server hosting the worker and the client stream.
type workerLink struct {
	lis    *bufconn.Listener
	server *grpc.Server
	conn   *grpc.ClientConn
	stream grpc.BidiStreamingClient[wrapperspb.BytesValue, wrapperspb.BytesValue]
	cancel context.CancelFunc

	// gRPC streams do not allow concurrent sends
	sendMu sync.Mutex
}

// startWorker serves a worker for d on a fresh in-memory listener and opens
// the stream to it.
func startWorker(d Dispatcher, logger *slog.Logger) (*workerLink, error) {
	if d == nil {
		return nil, errors.New("no dispatcher")
	}

	lis := bufconn.Listen(bufSize)
	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxEnvelope),
		grpc.MaxSendMsgSize(maxEnvelope),
		grpc.WaitForHandlers(true),
	)
	server.RegisterService(&workerServiceDesc, &worker{dispatcher: d, logger: logger})

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("worker server stopped", "error", err)
		}
	}()

	conn, err := grpc.NewClient("passthrough:///worker",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxEnvelope),
			grpc.MaxCallSendMsgSize(maxEnvelope),
		),
	)
	if err != nil {
		server.Stop()
		return nil, fmt.Errorf("connecting to worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs, err := conn.NewStream(ctx, &workerServiceDesc.Streams[0], exchangeMethod)
	if err != nil {
		cancel()
		_ = conn.Close()
		server.Stop()
		return nil, fmt.Errorf("opening worker stream: %w", err)
	}

	return &workerLink{
		lis:    lis,
		server: server,
		conn:   conn,
		stream: &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: cs},
		cancel: cancel,
	}, nil
}

// send writes one encoded envelope to the worker
func (l *workerLink) send(envelope []byte) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	return l.stream.Send(wrapperspb.Bytes(envelope))
}

// recv returns the next encoded envelope from the worker
func (l *workerLink) recv() ([]byte, error) {
	msg, err := l.stream.Recv()
	if err != nil {
		return nil, err
	}
	return msg.GetValue(), nil
}

// close cancels the stream, which cancels the worker's in-flight request,
// and waits for the worker to return.
func (l *workerLink) close() {
	l.cancel()
	_ = l.conn.Close()
	l.server.Stop()
	_ = l.lis.Close()
}
