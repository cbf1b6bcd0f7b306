package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"nhooyr.io/websocket"
)

const wsPath = "/ws"

type wsConn struct {
	conn         *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration
	pingCancel   context.CancelFunc
}

func newWSConn(conn *websocket.Conn, opts Options, logger *slog.Logger) *wsConn {
	conn.SetReadLimit(opts.MaxMessageBytes)
	c := &wsConn{conn: conn, logger: logger, writeTimeout: opts.WriteTimeout}
	c.startPingLoop(opts.PingInterval)
	return c
}

func (c *wsConn) WriteFrame(ctx context.Context, f Frame) error {
	payload, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

// ReadFrame skips frames that do not decode; only transport errors end it.
func (c *wsConn) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		_, b, err := c.conn.Read(ctx)
		if err != nil {
			return Frame{}, err
		}
		f, err := DecodeFrame(b)
		if err != nil {
			c.logger.Warn("dropping websocket frame", "error", err)
			continue
		}
		return f, nil
	}
}

func (c *wsConn) Close(reason string) error {
	c.pingCancel()
	err := c.conn.Close(websocket.StatusNormalClosure, reason)
	var ce websocket.CloseError
	if errors.As(err, &ce) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *wsConn) startPingLoop(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.pingCancel = cancel
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
				if err := c.conn.Ping(pingCtx); err != nil && ctx.Err() == nil {
					c.logger.Debug("websocket ping failed", "error", err)
				}
				pingCancel()
			}
		}
	}()
}

// WebSocketDialer connects to a WebSocketServer endpoint such as
// ws://host:10000/ws.
type WebSocketDialer struct {
	opts   Options
	logger *slog.Logger
}

func NewWebSocketDialer(opts Options, logger *slog.Logger) *WebSocketDialer {
	return &WebSocketDialer{opts: opts.withDefaults(), logger: logger}
}

func (d *WebSocketDialer) Dial(ctx context.Context, address, deviceID string) (Session, error) {
	h := http.Header{}
	if deviceID != "" {
		h.Set(HeaderDeviceID, deviceID)
	}
	dialCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, address, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial %s: %v", ErrConnection, address, err)
	}
	s := newSession(address, newWSConn(conn, d.opts, d.logger), newDispatcher(), d.logger)
	go s.readLoop()
	d.logger.Info("websocket stream connected", "url", address)
	return s, nil
}

// WebSocketServer accepts sessions on a single /ws route.
type WebSocketServer struct {
	*hub

	addr      string
	opts      Options
	httpSrv   *http.Server
	ln        net.Listener
	closeOnce sync.Once
	closeErr  error
}

func NewWebSocketServer(addr string, opts Options, logger *slog.Logger) *WebSocketServer {
	s := &WebSocketServer{
		hub:  newHub(logger),
		addr: addr,
		opts: opts.withDefaults(),
	}
	r := mux.NewRouter()
	r.HandleFunc(wsPath, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: r, ReadHeaderTimeout: s.opts.ConnectTimeout}
	return s
}

func (s *WebSocketServer) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrConnection, s.addr, err)
	}
	s.ln = ln
	s.logger.Info("websocket server listening", "addr", ln.Addr().String())
	return nil
}

func (s *WebSocketServer) Endpoint() string {
	if s.ln == nil {
		return ""
	}
	return "ws://" + dialableHost(s.ln.Addr()) + wsPath
}

// Serve blocks until ctx is cancelled or the server fails.
func (s *WebSocketServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(s.ln) }()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%w: websocket server: %v", ErrConnection, err)
	}
}

// Close disconnects every session before shutting the listener; hijacked
// connections are not tracked by http.Server.
func (s *WebSocketServer) Close() error {
	s.closeOnce.Do(func() {
		s.closeAll()
		s.closeErr = s.httpSrv.Close()
		if s.ln != nil {
			_ = s.ln.Close()
		}
	})
	return s.closeErr
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	id, fallback := resolvePeerID(r.Header.Get(HeaderDeviceID))
	s.serve(id, fallback, newWSConn(conn, s.opts, s.logger))
}
