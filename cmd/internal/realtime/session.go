package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	v1 "haven/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// closeError ends a session from inside a frame handler.
type closeError struct {
	code   websocket.StatusCode
	reason string
}

func (e *closeError) Error() string { return "close: " + e.reason }

// frameHandler processes one inbound data frame. Returning a *closeError
// ends the session; any other error is logged and the session continues.
type frameHandler func(ctx context.Context, data []byte) error

// session owns one accepted websocket: a writer goroutine draining the
// client queue, a heartbeat goroutine, and the read loop on the calling
// goroutine. Frames are handled strictly in arrival order.
type session struct {
	log    *slog.Logger
	conn   *websocket.Conn
	client *Client
	cfg    GatewayConfig

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// accept upgrades r with the v1 subprotocol. It writes nothing on failure;
// websocket.Accept has already answered the request.
func accept(w http.ResponseWriter, r *http.Request, cfg GatewayConfig, origins originPolicy) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     origins.patterns,
		InsecureSkipVerify: cfg.DevInsecure,
	})
	if err != nil {
		return nil, err
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, errors.New("subprotocol not negotiated: " + sp)
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func newSession(log *slog.Logger, conn *websocket.Conn, client *Client, cfg GatewayConfig) *session {
	return &session{
		log:    log.With("session_id", client.SessionID, "user_id", client.UserID),
		conn:   conn,
		client: client,
		cfg:    cfg,
	}
}

// shutdown is idempotent. It does not close client.Send.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.client.Close()
		_ = s.conn.Close(code, reason)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// send enqueues ev for this connection only.
func (s *session) send(ev v1.Event) bool {
	b, err := json.Marshal(ev)
	if err != nil {
		s.log.Error("ws.encode.fail", "type", ev.EventType(), "err", err)
		return false
	}
	return s.client.offer(b)
}

func (s *session) sendError(code, msg string) {
	_ = s.send(v1.NewErrorEvent(code, msg))
}

// run blocks until the connection ends. handle may be nil to discard
// inbound frames.
func (s *session) run(parent context.Context, handle frameHandler) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		s.heartbeat(ctx)
	}()

	s.readLoop(ctx, handle)

	s.shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (s *session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Done():
			return
		case b := <-s.client.Send:
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				s.log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (s *session) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
			err := s.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				s.log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					s.shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// readLoop has no idle deadline. Pongs are consumed inside Read, so the
// heartbeat is what decides a quiet connection is dead.
func (s *session) readLoop(ctx context.Context, handle frameHandler) {
	for {
		_, data, err := s.conn.Read(ctx)

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				s.shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				s.shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				s.shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				s.log.Info("ws.read.fail", "err", err)
				s.shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		if handle == nil {
			continue
		}
		if err := handle(ctx, data); err != nil {
			var ce *closeError
			if errors.As(err, &ce) {
				s.shutdown(ce.code, ce.reason)
				return
			}
			s.log.Warn("ws.frame.fail", "err", err)
		}
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
