// Package httpapi exposes the pipeline Orchestrator's in-process API
// over HTTP/JSON via Fiber.
package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/wardenhq/sentryd/internal/core/alert"
	"github.com/wardenhq/sentryd/internal/core/anomaly"
	"github.com/wardenhq/sentryd/internal/core/errs"
	"github.com/wardenhq/sentryd/internal/core/pipeline"
)

// Handler adapts a pipeline.Orchestrator to Fiber route handlers.
type Handler struct {
	orch *pipeline.Orchestrator
}

// New builds a Handler wrapping orch.
func New(orch *pipeline.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// Mount registers every §6 operation under app.
func (h *Handler) Mount(app *fiber.App) {
	app.Use(cors.New())

	api := app.Group("/api/v1")
	api.Get("/status", h.getStatus)
	api.Post("/config", h.postConfig)
	api.Get("/config", h.getConfig)
	api.Post("/block/:addr", h.postBlock)
	api.Post("/allow/:addr", h.postAllow)
	api.Delete("/block/:addr", h.deleteBlock)
	api.Delete("/allow/:addr", h.deleteAllow)
	api.Get("/dossier/:addr", h.getDossier)
	api.Post("/dossier/:addr/notes", h.postNotes)
	api.Post("/alerts/:id/status", h.postAlertStatus)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
}

func (h *Handler) getStatus(c *fiber.Ctx) error {
	return c.JSON(h.orch.Status(time.Now()))
}

func (h *Handler) getConfig(c *fiber.Ctx) error {
	return c.JSON(h.orch.GetConfig())
}

// configPatch mirrors spec §6's config_set recognized-option set.
type configPatch struct {
	PortScanThreshold *int     `json:"port_scan_threshold"`
	DDoSThreshold     *int     `json:"ddos_threshold"`
	Sensitivity       *string  `json:"sensitivity"`
	AutoBlock         *bool    `json:"auto_block"`
	AnomalyEnabled    *bool    `json:"anomaly_enabled"`
	MonitoredPorts    []int    `json:"monitored_ports"`
	ExcludedAddrs     []string `json:"excluded_addrs"`
}

func (h *Handler) postConfig(c *fiber.Ctx) error {
	var patch configPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	cfg := h.orch.GetConfig()
	if patch.PortScanThreshold != nil {
		cfg.PortScanThreshold = *patch.PortScanThreshold
	}
	if patch.DDoSThreshold != nil {
		cfg.DDoSThreshold = *patch.DDoSThreshold
	}
	if patch.AutoBlock != nil {
		cfg.AutoBlock = *patch.AutoBlock
	}
	if patch.AnomalyEnabled != nil {
		cfg.AnomalyEnabled = *patch.AnomalyEnabled
	}
	if patch.MonitoredPorts != nil {
		ports := make([]uint16, len(patch.MonitoredPorts))
		for i, p := range patch.MonitoredPorts {
			ports[i] = uint16(p)
		}
		cfg.MonitoredPorts = ports
	}
	if patch.ExcludedAddrs != nil {
		cfg.ExcludedAddrs = patch.ExcludedAddrs
	}
	if patch.Sensitivity != nil {
		cfg.Sensitivity = sensitivityFromString(*patch.Sensitivity)
		cfg.PortScanThreshold, cfg.DDoSThreshold = ruleThresholdsFor(cfg.Sensitivity)
	}

	h.orch.ConfigSet(cfg)
	return c.JSON(h.orch.GetConfig())
}

func (h *Handler) postBlock(c *fiber.Ctx) error {
	addr := c.Params("addr")
	if err := h.orch.Block(addr, time.Now()); err != nil {
		return writeErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) postAllow(c *fiber.Ctx) error {
	addr := c.Params("addr")
	h.orch.Allow(addr, time.Now())
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) deleteBlock(c *fiber.Ctx) error {
	h.orch.RemoveBlock(c.Params("addr"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) deleteAllow(c *fiber.Ctx) error {
	h.orch.RemoveAllow(c.Params("addr"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) getDossier(c *fiber.Ctx) error {
	snap, err := h.orch.Dossier(c.Params("addr"))
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(snap)
}

type notesBody struct {
	Text string `json:"text"`
}

func (h *Handler) postNotes(c *fiber.Ctx) error {
	var body notesBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.orch.SetNotes(c.Params("addr"), body.Text); err != nil {
		return writeErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type alertStatusBody struct {
	Status string `json:"status"`
}

func (h *Handler) postAlertStatus(c *fiber.Ctx) error {
	var body alertStatusBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.orch.SetAlertStatus(c.Params("id"), alert.Status(body.Status)); err != nil {
		return writeErr(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func sensitivityFromString(s string) anomaly.Sensitivity {
	switch strings.ToLower(s) {
	case "low":
		return anomaly.Low
	case "high":
		return anomaly.High
	default:
		return anomaly.Medium
	}
}

func ruleThresholdsFor(s anomaly.Sensitivity) (int, int) {
	return anomaly.RuleThresholdsFor(s)
}

func writeErr(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errs.Is(err, errs.Precondition):
		status = fiber.StatusConflict
	case errs.Is(err, errs.NotFound):
		status = fiber.StatusNotFound
	case errs.Is(err, errs.Capacity):
		status = fiber.StatusTooManyRequests
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
