// Package gateway is the WebSocket transport to a TWS/IB Gateway bridge.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Options struct {
	Path             string
	TLS              bool
	Auth             Authenticator
	RateLimit        float64
	Burst            int
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

// WebSocketClient implements tws.Transport. A single reader goroutine
// delivers events in arrival order.
type WebSocketClient struct {
	opts      Options
	conn      *websocket.Conn
	mu        sync.Mutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	handler   func(tws.Event)
	limiter   *rate.Limiter
	logger    *logrus.Logger
}

func NewWebSocketClient(opts Options, logger *logrus.Logger) *WebSocketClient {
	if opts.Path == "" {
		opts.Path = "/v1/ws"
	}
	if opts.Auth == nil {
		opts.Auth = NoAuth{}
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &WebSocketClient{
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (ws *WebSocketClient) url(host string, port, clientID int) string {
	scheme := "ws"
	if ws.opts.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     ws.opts.Path,
		RawQuery: url.Values{"client_id": {strconv.Itoa(clientID)}}.Encode(),
	}
	return u.String()
}

func (ws *WebSocketClient) Connect(ctx context.Context, host string, port, clientID int) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.connected {
		return nil
	}

	header := http.Header{}
	if err := ws.opts.Auth.AddAuthHeaders(header, host, ws.opts.Path); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: ws.opts.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, ws.url(host, port, clientID), header)
	if err != nil {
		return fmt.Errorf("failed to connect to websocket: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ws.conn = conn
	ws.connected = true
	ws.cancel = cancel

	go ws.readLoop(runCtx, conn)
	go ws.keepAlive(runCtx, conn)

	ws.logger.WithFields(logrus.Fields{
		"host":      host,
		"port":      port,
		"client_id": clientID,
	}).Info("Connected to gateway websocket")
	return nil
}

func (ws *WebSocketClient) Disconnect() error {
	ws.mu.Lock()
	conn := ws.conn
	cancel := ws.cancel
	wasConnected := ws.connected
	ws.connected = false
	ws.conn = nil
	ws.cancel = nil
	ws.mu.Unlock()

	if !wasConnected || conn == nil {
		return nil
	}
	cancel()

	ws.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	ws.writeMu.Unlock()
	return conn.Close()
}

func (ws *WebSocketClient) IsConnected() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.connected
}

// OnEvent must be called before Connect.
func (ws *WebSocketClient) OnEvent(handler func(tws.Event)) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.handler = handler
}

// Send waits for the pacing limiter and writes one framed request.
func (ws *WebSocketClient) Send(ctx context.Context, req tws.Request) error {
	ws.mu.Lock()
	conn := ws.conn
	connected := ws.connected
	ws.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	if err := ws.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	env, err := EncodeRequest(req, time.Now())
	if err != nil {
		return err
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to write %s: %w", req.RequestKind(), err)
	}
	return nil
}

func (ws *WebSocketClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			var env Envelope
			err := conn.ReadJSON(&env)
			if err != nil {
				if ctx.Err() == nil {
					ws.logger.WithError(err).Error("Failed to read websocket message")
					ws.handleDisconnect(conn, err.Error())
				}
				return
			}

			ev, err := DecodeEvent(env)
			if err != nil {
				ws.logger.WithError(err).WithField("type", env.Type).Error("Handler error")
				continue
			}
			if ev == nil {
				ws.logger.WithField("type", env.Type).Debug("Ignoring unknown message type")
				continue
			}
			ws.deliver(ev)
		}
	}
}

func (ws *WebSocketClient) deliver(ev tws.Event) {
	ws.mu.Lock()
	h := ws.handler
	ws.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (ws *WebSocketClient) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.opts.PingInterval))
			ws.writeMu.Unlock()
			if err != nil {
				ws.logger.WithError(err).Error("Failed to send ping")
				ws.handleDisconnect(conn, err.Error())
				return
			}
		}
	}
}

// handleDisconnect tears down conn once and tells the handler.
func (ws *WebSocketClient) handleDisconnect(conn *websocket.Conn, reason string) {
	ws.mu.Lock()
	if ws.conn != conn {
		ws.mu.Unlock()
		return
	}
	ws.connected = false
	ws.conn = nil
	if ws.cancel != nil {
		ws.cancel()
		ws.cancel = nil
	}
	ws.mu.Unlock()

	conn.Close()
	ws.deliver(tws.ConnectionClosed{Reason: reason})
}
