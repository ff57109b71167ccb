// Command sentryd-api serves historical dashboard queries against the
// ClickHouse mirror sentryd writes alerts to — a read-only companion to
// the live control API sentryd itself exposes. The overview counts rows
// in the alerts and traffic_samples tables; sentryd itself does not
// write traffic_samples rows. A Postgres store is opened when enabled
// but is not queried.
package main

import (
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/sentryd/internal/config"
	"github.com/wardenhq/sentryd/internal/obslog"
	"github.com/wardenhq/sentryd/internal/persistence/chmetrics"
	"github.com/wardenhq/sentryd/internal/persistence/pgaudit"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment as-is")
	}

	cfg, err := config.Load("")
	if err != nil {
		cfg, err = config.Preset("standard")
		if err != nil {
			os.Exit(1)
		}
	}
	obslog.Init(cfg.LogLevel, cfg.Environment != "production")

	var ch *chmetrics.Sink
	if cfg.Output.ClickHouse.Enabled {
		ch, err = chmetrics.Open(cfg.Output.ClickHouse.Hosts, cfg.Output.ClickHouse.Database, cfg.Output.ClickHouse.Username, cfg.Output.ClickHouse.Password)
		if err != nil {
			log.Fatal().Err(err).Msg("sentryd-api: clickhouse init failed")
		}
		defer ch.Close()
	}

	var pg *pgaudit.Store
	if cfg.Output.Postgres.Enabled {
		pg, err = pgaudit.Open(cfg.Output.Postgres.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sentryd-api: postgres init failed")
		}
		defer pg.Close()
	}

	svc := newHistoryService(ch, pg)
	handler := newDashboardHandler(svc)

	app := fiber.New()
	app.Use(cors.New())

	api := app.Group("/api/v1")
	api.Get("/dashboard/overview", handler.getOverview)
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("OK") })

	log.Info().Str("addr", cfg.API.ListenAddr).Msg("sentryd-api listening")
	if err := app.Listen(cfg.API.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("sentryd-api exited")
	}
}
