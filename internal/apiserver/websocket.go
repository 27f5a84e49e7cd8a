package apiserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	websocketWriteTimeout = 10 * time.Second
	websocketReadTimeout  = 90 * time.Second
	websocketPingInterval = 30 * time.Second
)

type websocketEnvelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	TS      int64  `json:"ts"`
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// handleAnalyticsWebsocket pushes the wallet's analytics bundle on connect
// and again after every successful sync of that wallet.
func (s *Service) handleAnalyticsWebsocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondMethodNotAllowed(w)
		return
	}
	wallet := strings.TrimSpace(r.URL.Query().Get("wallet"))
	if wallet == "" {
		s.respondError(w, http.StatusBadRequest, "wallet is required")
		return
	}
	filter, err := parseAnalyticsFilter(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	upgrader := websocketUpgrader
	upgrader.CheckOrigin = func(req *http.Request) bool {
		return s.isOriginAllowed(strings.TrimSpace(req.Header.Get("Origin")))
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.backend.Subscribe(wallet)
	defer unsubscribe()

	readErrCh := make(chan error, 1)
	go websocketReadLoop(conn, readErrCh)

	channel := "analytics." + wallet
	push := func() bool {
		bundle, err := s.backend.Analytics(ctx, wallet, filter)
		if err != nil {
			s.logger.Warn("websocket analytics failed", "wallet", wallet, "err", err)
			return writeWebsocketJSON(conn, websocketEnvelope{Type: "error", Channel: channel, Error: "failed to compute analytics", TS: time.Now().Unix()}) == nil
		}
		return writeWebsocketJSON(conn, websocketEnvelope{Type: "event", Channel: channel, Data: bundle, TS: time.Now().Unix()}) == nil
	}
	if !push() {
		return
	}

	ping := time.NewTicker(websocketPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErrCh:
			if err != nil {
				s.logger.Debug("websocket read loop ended", "err", err)
			}
			return
		case _, ok := <-events:
			if !ok || !push() {
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(websocketWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// websocketReadLoop drains client frames so control messages are handled.
// Clients have nothing to send on this stream.
func websocketReadLoop(conn *websocket.Conn, readErrCh chan<- error) {
	conn.SetReadLimit(64 * 1024)
	if err := conn.SetReadDeadline(time.Now().Add(websocketReadTimeout)); err == nil {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
		})
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			readErrCh <- err
			return
		}
	}
}

func writeWebsocketJSON(conn *websocket.Conn, payload websocketEnvelope) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
