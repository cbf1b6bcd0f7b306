package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

const (
	relayService = "edgecomputing.relay.v1.Relay"
	eventsMethod = "/" + relayService + "/Events"
)

var eventsStreamDesc = grpc.StreamDesc{
	StreamName:    "Events",
	ServerStreams: true,
	ClientStreams: true,
}

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type grpcStream interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

type grpcConn struct {
	stream grpcStream
	logger *slog.Logger
	// close releases the client side stream and connection; nil on the
	// server side, where returning from the handler ends the stream.
	close func() error
}

func (c *grpcConn) WriteFrame(_ context.Context, f Frame) error {
	return c.stream.SendMsg(&f)
}

func (c *grpcConn) ReadFrame(_ context.Context) (Frame, error) {
	for {
		var f Frame
		if err := c.stream.RecvMsg(&f); err != nil {
			return Frame{}, err
		}
		if f.Event == "" {
			c.logger.Warn("dropping grpc frame without event name")
			continue
		}
		return f, nil
	}
}

func (c *grpcConn) Close(string) error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// GRPCDialer opens a bidirectional Events stream and carries the device id
// as outgoing metadata.
type GRPCDialer struct {
	opts   Options
	logger *slog.Logger
}

func NewGRPCDialer(opts Options, logger *slog.Logger) *GRPCDialer {
	return &GRPCDialer{opts: opts.withDefaults(), logger: logger}
}

func (d *GRPCDialer) Dial(ctx context.Context, address, deviceID string) (Session, error) {
	target := grpcTarget(address)
	dialCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	cc, err := grpc.DialContext(
		dialCtx,
		target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(jsonCodec{}),
			grpc.CallContentSubtype("json"),
			grpc.MaxCallRecvMsgSize(int(d.opts.MaxMessageBytes)),
			grpc.MaxCallSendMsgSize(int(d.opts.MaxMessageBytes)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: grpc dial %s: %v", ErrConnection, target, err)
	}

	streamCtx, stop := context.WithCancel(context.Background())
	if deviceID != "" {
		streamCtx = metadata.AppendToOutgoingContext(streamCtx, HeaderDeviceID, deviceID)
	}
	cs, err := cc.NewStream(streamCtx, &eventsStreamDesc, eventsMethod)
	if err != nil {
		stop()
		_ = cc.Close()
		return nil, fmt.Errorf("%w: open events stream %s: %v", ErrConnection, target, err)
	}

	var once sync.Once
	conn := &grpcConn{stream: cs, logger: d.logger}
	conn.close = func() error {
		var err error
		once.Do(func() {
			_ = cs.CloseSend()
			stop()
			err = cc.Close()
		})
		return err
	}
	s := newSession(target, conn, newDispatcher(), d.logger)
	go s.readLoop()
	d.logger.Info("grpc stream connected", "addr", target)
	return s, nil
}

// GRPCServer serves the Events stream with the JSON codec.
type GRPCServer struct {
	*hub

	addr      string
	srv       *grpc.Server
	ln        net.Listener
	closeOnce sync.Once
}

func NewGRPCServer(addr string, opts Options, logger *slog.Logger) *GRPCServer {
	opts = opts.withDefaults()
	s := &GRPCServer{hub: newHub(logger), addr: addr}
	s.srv = grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(int(opts.MaxMessageBytes)),
		grpc.MaxSendMsgSize(int(opts.MaxMessageBytes)),
	)
	s.srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: relayService,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    eventsStreamDesc.StreamName,
			Handler:       s.handleEvents,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, s)
	return s
}

func (s *GRPCServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrConnection, s.addr, err)
	}
	s.ln = ln
	s.logger.Info("grpc server listening", "addr", ln.Addr().String())
	return nil
}

func (s *GRPCServer) Endpoint() string {
	if s.ln == nil {
		return ""
	}
	return dialableHost(s.ln.Addr())
}

func (s *GRPCServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("%w: grpc server: %v", ErrConnection, err)
	}
}

func (s *GRPCServer) Close() error {
	s.closeOnce.Do(func() {
		s.closeAll()
		s.srv.Stop()
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
	return nil
}

func (s *GRPCServer) handleEvents(_ any, ss grpc.ServerStream) error {
	var header string
	if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
		if v := md.Get(HeaderDeviceID); len(v) > 0 {
			header = v[0]
		}
	}
	id, fallback := resolvePeerID(header)
	s.serve(id, fallback, &grpcConn{stream: ss, logger: s.logger})
	return nil
}

// grpcTarget accepts either host:port or a ws:// style URL so one target
// list works for both stream modes.
func grpcTarget(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Host == "" {
		return address
	}
	return u.Host
}
