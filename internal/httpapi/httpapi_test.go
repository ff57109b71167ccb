package httpapi

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wardenhq/sentryd/internal/core/pipeline"
)

func newTestApp() (*fiber.App, *pipeline.Orchestrator) {
	orch := pipeline.New(pipeline.DefaultConfig(), time.Now())
	app := fiber.New()
	New(orch).Mount(app)
	return app, orch
}

func TestGetStatusReturns200(t *testing.T) {
	app, _ := newTestApp()
	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestBlockThenAllowRoundtrip(t *testing.T) {
	app, _ := newTestApp()

	req := httptest.NewRequest("POST", "/api/v1/block/10.0.0.1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/api/v1/allow/10.0.0.1", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestBlockingAllowlistedAddressReturnsConflict(t *testing.T) {
	app, orch := newTestApp()
	orch.Allow("10.0.0.2", time.Now())

	req := httptest.NewRequest("POST", "/api/v1/block/10.0.0.2", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestDossierUnknownAddressReturns404(t *testing.T) {
	app, _ := newTestApp()
	req := httptest.NewRequest("GET", "/api/v1/dossier/1.2.3.4", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestConfigSetUpdatesSensitivity(t *testing.T) {
	app, orch := newTestApp()
	body := `{"sensitivity": "high"}`
	req := httptest.NewRequest("POST", "/api/v1/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, b)
	}
	if orch.GetConfig().PortScanThreshold != 5 {
		t.Fatalf("expected high-sensitivity threshold applied, got %+v", orch.GetConfig())
	}
}
