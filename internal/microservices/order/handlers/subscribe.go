package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"restaurant-system/internal/common/httpx"
	"restaurant-system/internal/common/logger"
	"restaurant-system/internal/domain"
	"restaurant-system/internal/microservices/notificator"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// CloseResync tells a dashboard it missed events and must refetch.
const CloseResync = 4000

type SubscribeHandler struct {
	hub          *notificator.Hub
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	log          *logger.Logger
}

func NewSubscribeHandler(hub *notificator.Hub, pingInterval time.Duration, log *logger.Logger) *SubscribeHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &SubscribeHandler{
		hub:          hub,
		pingInterval: pingInterval,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		log:          log,
	}
}

// Subscribe upgrades to a websocket and streams the tenant's order events
// as JSON text frames until either side goes away.
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	tenant := httpx.TenantID(r.Context())
	sub, err := h.hub.Subscribe(tenant)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		h.log.Debug(logger.ActionWebsocketFailed, map[string]any{"tenant_id": tenant, "error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()
	// Registered after wg.Wait so it runs first and unblocks the reader.
	defer conn.Close()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		h.readPump(conn)
	}()

	events := make(chan domain.Event)
	pumpErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				pumpErr <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				pumpErr <- ctx.Err()
				return
			}
		}
	}()

	h.writePump(ctx, conn, tenant, events, pumpErr)
	cancel()
}

// readPump discards client frames and keeps the read deadline moving on
// pongs. It returns when the connection fails or closes.
func (h *SubscribeHandler) readPump(conn *websocket.Conn) {
	pongWait := h.pingInterval * 2
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SubscribeHandler) writePump(ctx context.Context, conn *websocket.Conn, tenant string, events <-chan domain.Event, pumpErr <-chan error) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug(logger.ActionWebsocketFailed, map[string]any{"tenant_id": tenant, "error": err.Error()})
				return
			}
		case err := <-pumpErr:
			code, text := websocket.CloseNormalClosure, "bye"
			switch {
			case errors.Is(err, notificator.ErrSlowSubscriber):
				code, text = CloseResync, "too slow, resync"
			case errors.Is(err, notificator.ErrResync):
				code, text = CloseResync, "resync"
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
