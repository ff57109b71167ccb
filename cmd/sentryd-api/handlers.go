package main

import "github.com/gofiber/fiber/v2"

type dashboardHandler struct {
	svc *historyService
}

func newDashboardHandler(svc *historyService) *dashboardHandler {
	return &dashboardHandler{svc: svc}
}

func (h *dashboardHandler) getOverview(c *fiber.Ctx) error {
	ov, err := h.svc.getOverview(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(ov)
}
