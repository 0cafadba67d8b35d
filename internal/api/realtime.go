package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/widgetbase/server/internal/store"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The widget is embedded on arbitrary customer sites.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Realtime bridges the tenant's config-update pub/sub channel onto a
// websocket so live widgets restyle without a reload.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	defer conn.Close()

	pubsub := h.store.Subscribe(r.Context(), store.ConfigChannel(clientID))
	defer pubsub.Close()

	// Drain reads so we notice when the widget goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				pubsub.Close()
				return
			}
		}
	}()

	for msg := range pubsub.Channel() {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
			return
		}
	}
}
