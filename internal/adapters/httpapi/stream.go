package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"tradeBridge/internal/ports"
)

const (
	minStreamInterval = 100 * time.Millisecond
	streamWriteWait   = 10 * time.Second
	streamPongWait    = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer for REST; streams are read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handlePriceStream pushes the symbol's quote every interval until the client goes away or
// the server shuts down. A failed lookup is sent as an error envelope and the stream goes on.
func (s *Server) handlePriceStream(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	interval := s.interval
	if v := r.URL.Query().Get("interval_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			s.respondMessage(w, http.StatusBadRequest, "interval_ms must be a positive integer", "InvalidRequest")
			return
		}
		interval = time.Duration(ms) * time.Millisecond
	}
	if interval < minStreamInterval {
		interval = minStreamInterval
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "Price stream upgrade failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The read side only watches for the client closing.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.logger.Info(ctx, "Price stream opened", map[string]interface{}{"symbol": symbol, "interval": interval.String()})
	defer s.logger.Info(context.Background(), "Price stream closed", map[string]interface{}{"symbol": symbol})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.pushQuote(ctx, conn, symbol); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) pushQuote(ctx context.Context, conn *websocket.Conn, symbol string) error {
	var msg Envelope
	q, err := s.svc.Price(ctx, symbol)
	if err != nil {
		msg = Envelope{Success: false, Error: err.Error(), Kind: ports.KindOf(err)}
	} else {
		msg = Envelope{Success: true, Data: toPriceDTO(q)}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
