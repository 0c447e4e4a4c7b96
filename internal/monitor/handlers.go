package monitor

import (
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/connectivity"
	"github.com/RandyVollrath/ticketlesschicago-sub001/internal/location"

	"github.com/gofiber/fiber/v2"
)

func validSignalKind(kind connectivity.SignalKind) bool {
	switch kind {
	case connectivity.SignalConnect, connectivity.SignalDisconnect,
		connectivity.SignalInitConnected, connectivity.SignalInitDisconnected:
		return true
	}
	return false
}

// RegisterSignalRoutes exposes the hardware signal webhook and the
// missed-signal replay endpoint.
func RegisterSignalRoutes(r fiber.Router, coord *Coordinator, jwt fiber.Handler) {
	r.Post("/", jwt, func(c *fiber.Ctx) error {
		var sig connectivity.Signal
		if err := c.BodyParser(&sig); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if !validSignalKind(sig.Kind) {
			return fiber.NewError(fiber.StatusBadRequest, "unknown signal kind")
		}
		coord.Inject(sig)
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Post("/replay", jwt, func(c *fiber.Ctx) error {
		var req struct {
			Signals []connectivity.Signal `json:"signals"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		for _, sig := range req.Signals {
			if !validSignalKind(sig.Kind) {
				return fiber.NewError(fiber.StatusBadRequest, "unknown signal kind")
			}
		}
		coord.Replay(req.Signals)
		return c.JSON(fiber.Map{"replayed": len(req.Signals)})
	})
}

// RegisterReportRoutes exposes the tracker position-report webhook.
func RegisterReportRoutes(r fiber.Router, tracker *location.TrackerProvider, jwt fiber.Handler) {
	r.Post("/", jwt, func(c *fiber.Ctx) error {
		var report location.Report
		if err := c.BodyParser(&report); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		tracker.Record(c.Context(), report)
		return c.SendStatus(fiber.StatusAccepted)
	})
}

// RegisterRoutes exposes runtime status and the manual check trigger.
func RegisterRoutes(r fiber.Router, rt *Runtime, jwt fiber.Handler) {
	r.Get("/status", jwt, func(c *fiber.Ctx) error {
		return c.JSON(rt.Status())
	})

	r.Post("/check", jwt, func(c *fiber.Ctx) error {
		if err := rt.CheckNow(c.Context()); err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(rt.Status())
	})
}
