package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scentara/storefront-cart/internal/cart"
	"github.com/scentara/storefront-cart/internal/logger"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

const CartEventType = "cart"

// CartEventDTO is pushed to guest cart subscribers.
type CartEventDTO struct {
	Type string          `json:"type"`
	Cart CartResponseDTO `json:"cart"`
}

// Events pushes the guest cart over a websocket: once on connect and again
// after every write to it, including writes made through other instances
// sharing the backend. Browsers cannot set headers on the handshake, so the
// guest id may come as the guest_id query parameter.
func (h *CartHandler) Events(w http.ResponseWriter, r *http.Request) {
	if getToken(r.Context()) != "" {
		h.respondError(w, http.StatusConflict, "server_cart", "only guest carts are streamed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered
		h.log.Debug("cart events upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := logger.WithTrace(ctx, h.log).With(zap.String("guest_id", getGuestID(ctx)))

	svc := h.service(r)
	defer svc.Close()

	changed := make(chan struct{}, 1)
	svc.Subscribe(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	go readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := pushCart(ctx, conn, svc); err != nil {
		log.Debug("cart events closed", zap.Error(err))
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case <-changed:
			if err := pushCart(ctx, conn, svc); err != nil {
				log.Debug("cart events closed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the client side so pongs and close frames are processed,
// and cancels the stream once the connection is gone.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

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

func pushCart(ctx context.Context, conn *websocket.Conn, svc *cart.Service) error {
	view, err := svc.View(ctx)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(CartEventDTO{Type: CartEventType, Cart: toCartResponse(view, false)})
}
