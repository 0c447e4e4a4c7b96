package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes exposes the per-vehicle monitor event stream. Every
// connection gets a hub registration; the read loop exists only to
// notice the peer going away.
func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/ws/:vehicleID", websocket.New(func(c *websocket.Conn) {
		client := hub.Register(c.Params("vehicleID"))
		defer hub.Unregister(client)

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		<-writerDone
	}))
}
