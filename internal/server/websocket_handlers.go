package server

import (
	"encoding/json"
	"log/slog"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/middleware"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// PostStreamHandler streams the caller's post changes over a websocket. The
// first frame is {"type":"subscribed"}.
func (s *Server) PostStreamHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		observability.WebSocketConnections.Inc()
		defer observability.WebSocketConnections.Dec()

		userID, _ := conn.Locals("userID").(string)
		if userID == "" || s.hub == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"stream unavailable"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			middleware.Logger.Warn("post stream registration failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			msg, _ := json.Marshal(fiber.Map{"error": err.Error()})
			_ = conn.WriteMessage(websocket.TextMessage, msg)
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
