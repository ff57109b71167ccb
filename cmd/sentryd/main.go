// Command sentryd is the network intrusion detection daemon: it
// captures traffic, drives the pipeline Orchestrator, publishes
// alerts, and serves the in-process control API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/gopacket/pcap"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/sentryd/internal/alertbus"
	"github.com/wardenhq/sentryd/internal/capture"
	"github.com/wardenhq/sentryd/internal/config"
	"github.com/wardenhq/sentryd/internal/core/alert"
	"github.com/wardenhq/sentryd/internal/core/pipeline"
	"github.com/wardenhq/sentryd/internal/geoenrich"
	"github.com/wardenhq/sentryd/internal/httpapi"
	"github.com/wardenhq/sentryd/internal/metrics"
	"github.com/wardenhq/sentryd/internal/mitigation"
	"github.com/wardenhq/sentryd/internal/obslog"
	"github.com/wardenhq/sentryd/internal/persistence/chmetrics"
	"github.com/wardenhq/sentryd/internal/persistence/pgaudit"
	"github.com/wardenhq/sentryd/internal/persistence/redisview"
	"github.com/wardenhq/sentryd/internal/rules"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	preset := flag.String("preset", "", "Configuration preset (light, standard, aggressive)")
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("sentryd v%s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	_ = godotenv.Load() // optional; env vars may come from the environment directly

	cfg, err := loadConfiguration(*configPath, *preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	obslog.Init(cfg.LogLevel, cfg.Environment != "production")
	log.Info().Str("instance_id", cfg.InstanceID).Msg("starting sentryd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch := pipeline.New(cfg.Detection.ToPipelineConfig(), time.Now())
	orch.Start(ctx)
	defer orch.Stop()

	metrics.Register(prometheus.DefaultRegisterer)

	var bus *alertbus.Bus
	if cfg.Output.NATS.Enabled {
		bus, err = alertbus.Connect(ctx, cfg.Output.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("alert bus unavailable, continuing without it")
		} else {
			defer bus.Close()
		}
	}

	var dispatcher *mitigation.Dispatcher
	if bus != nil {
		dispatcher = mitigation.NewDispatcher(bus, cfg.Output.NATS.BlockSubject)
	}

	ruleEngine := rules.NewEngine(time.Duration(cfg.Detection.DedupeWindow) * time.Second)
	var ruleSet []rules.Rule
	if cfg.Detection.DedupeWindow > 0 {
		ruleSet = append(ruleSet, rules.DefaultRules()...)
	}
	if cfg.Detection.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.Detection.RulesFile)
		if err != nil {
			log.Warn().Err(err).Str("rules_file", cfg.Detection.RulesFile).Msg("failed to load rules file")
		}
		ruleSet = append(ruleSet, loaded...)
	}
	if errs := ruleEngine.Load(ruleSet); len(errs) > 0 {
		for _, e := range errs {
			log.Warn().Err(e).Msg("rule failed to compile, skipped")
		}
	}
	log.Info().Int("rules_loaded", len(ruleSet)).Msg("rule engine ready")

	var geo *geoenrich.Provider
	if cfg.Output.GeoIP.Enabled {
		geo, err = geoenrich.Open(cfg.Output.GeoIP.DBPath)
		if err != nil {
			log.Warn().Err(err).Msg("geoip enrichment unavailable")
		} else {
			defer geo.Close()
		}
	}

	var audit *pgaudit.Store
	if cfg.Output.Postgres.Enabled {
		audit, err = pgaudit.Open(cfg.Output.Postgres.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("postgres audit mirror unavailable")
		} else {
			defer audit.Close()
			if err := audit.Migrate(ctx); err != nil {
				log.Warn().Err(err).Msg("postgres audit migration failed")
			}
		}
	}

	var chSink *chmetrics.Sink
	if cfg.Output.ClickHouse.Enabled {
		chSink, err = chmetrics.Open(cfg.Output.ClickHouse.Hosts, cfg.Output.ClickHouse.Database, cfg.Output.ClickHouse.Username, cfg.Output.ClickHouse.Password)
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse metrics sink unavailable")
		} else {
			defer chSink.Close()
			if err := chSink.Migrate(ctx); err != nil {
				log.Warn().Err(err).Msg("clickhouse migration failed")
			}
		}
	}

	var redisMirror *redisview.View
	if cfg.Output.Redis.Enabled {
		redisMirror, err = redisview.Open(cfg.Output.Redis.Addr, cfg.Output.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("redis list mirror unavailable")
		} else {
			defer redisMirror.Close()
		}
	}
	if geo != nil {
		log.Info().Bool("geoip_enabled", geo.Enabled()).Msg("geo enrichment ready")
	}

	go forwardAlerts(ctx, orch, bus, dispatcher, audit, chSink, redisMirror, geo, ruleEngine, cfg.Detection.DedupeWindow > 0)

	interfaces, err := resolveInterfaces(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to enumerate interfaces")
	}
	for _, iface := range interfaces {
		src, err := capture.Open(iface, cfg.Interfaces)
		if err != nil {
			log.Warn().Str("interface", iface).Err(err).Msg("failed to open capture interface")
			continue
		}
		go func(iface string, src capture.Source) {
			defer src.Close()
			if err := capture.Run(ctx, src, orch); err != nil {
				log.Warn().Str("interface", iface).Err(err).Msg("capture loop exited")
			}
		}(iface, src)
		log.Info().Str("interface", iface).Msg("capture started")
	}

	tickInterval := time.Duration(cfg.Resources.TickInterval) * time.Second
	go runTickLoop(ctx, orch, tickInterval)

	app := fiber.New()
	httpapi.New(orch).Mount(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	go func() {
		if err := app.Listen(cfg.API.ListenAddr); err != nil {
			log.Error().Err(err).Msg("http control surface stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()
	_ = app.ShutdownWithTimeout(5 * time.Second)
}

func loadConfiguration(configPath, preset string) (*config.SentrydConfig, error) {
	if preset != "" {
		return config.Preset(preset)
	}
	if configPath != "" {
		return config.Load(configPath)
	}
	cfg, err := config.Load("")
	if err != nil {
		return config.Preset("standard")
	}
	return cfg, nil
}

func resolveInterfaces(cfg *config.SentrydConfig) ([]string, error) {
	if len(cfg.Interfaces.Names) > 0 {
		return cfg.Interfaces.Names, nil
	}
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(devs))
	for _, d := range devs {
		if d.Name == "lo" || d.Name == "lo0" {
			continue
		}
		out = append(out, d.Name)
	}
	return out, nil
}

// forwardAlerts polls the Orchestrator's recent-alert ring and fans
// each newly-seen alert out to the bus, mitigation dispatcher, and
// persistence mirrors. seen holds only the ids of the latest
// Status().RecentAlerts, so it never grows beyond that slice.
// Each fresh alert is first run through the rule engine (escalation,
// suppression, and the port-scan dedup policy) and geo-enriched from
// its source address before being forwarded anywhere.
func forwardAlerts(ctx context.Context, orch *pipeline.Orchestrator, bus *alertbus.Bus, dispatcher *mitigation.Dispatcher, audit *pgaudit.Store, chSink *chmetrics.Sink, redisMirror *redisview.View, geo *geoenrich.Provider, engine *rules.Engine, dedupeConfigured bool) {
	seen := make(map[string]struct{})
	var lastTotal, lastDecode, lastDropped uint64
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			status := orch.Status(now)
			fresh := make([]alert.Alert, 0, len(status.RecentAlerts))
			current := make(map[string]struct{}, len(status.RecentAlerts))
			for _, a := range status.RecentAlerts {
				current[a.ID] = struct{}{}
				if _, ok := seen[a.ID]; ok {
					continue
				}
				fresh = append(fresh, a)
			}
			seen = current

			blocked := make(map[string]bool, len(status.Blocklist))
			for _, b := range status.Blocklist {
				blocked[b.Addr] = true
			}

			var forwarded []alert.Alert
			for i := range fresh {
				a := fresh[i]
				metrics.AlertsTotal.WithLabelValues(a.Title, string(a.Severity)).Inc()

				if geo != nil && geo.Enabled() {
					if loc := geo.Lookup(a.SourceAddr); loc != nil {
						orch.GeoEnrich(a.SourceAddr, loc.Country, loc.City, loc.Lat, loc.Lon, now)
						if a.Details == nil {
							a.Details = map[string]any{}
						}
						a.Details["geo_country"] = loc.Country
						a.Details["geo_city"] = loc.City
						a.Details["geo_lat"] = loc.Lat
						a.Details["geo_lon"] = loc.Lon
					}
				}

				suppress := false
				if engine != nil {
					matched := engine.Match(a, now)
					matchedDedupe := false
					for _, r := range matched {
						switch r.Action {
						case "escalate":
							a.Severity = alert.High
						case "suppress":
							suppress = true
						}
						if r.ID == rules.PortScanDedupeRuleID {
							matchedDedupe = true
						}
					}
					// The dedup rule's condition is always true for a
					// port-scan alert; its absence from matched with
					// the policy configured means the window hasn't
					// elapsed yet, i.e. this is a suppressed repeat.
					if dedupeConfigured && a.Title == "Port Scan Detected" && !matchedDedupe {
						suppress = true
					}
				}
				if suppress {
					continue
				}

				forwarded = append(forwarded, a)

				if bus != nil {
					if err := bus.PublishAlert(ctx, a); err != nil {
						log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to publish alert")
					}
				}
				if audit != nil {
					if err := audit.RecordAlert(ctx, a); err != nil {
						log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to record alert audit")
					}
				}
				if dispatcher != nil && a.Severity == alert.High && blocked[a.SourceAddr] {
					if err := dispatcher.DispatchBlock(ctx, a.SourceAddr, a.Title, a.Timestamp); err != nil {
						log.Warn().Err(err).Str("alert_id", a.ID).Msg("failed to dispatch mitigation")
					}
				}
			}
			if chSink != nil && len(forwarded) > 0 {
				if err := chSink.InsertAlerts(ctx, forwarded); err != nil {
					log.Warn().Err(err).Msg("failed to insert alerts into clickhouse")
				}
			}
			if redisMirror != nil {
				for _, b := range status.Blocklist {
					_ = redisMirror.MirrorBlock(ctx, b.Addr)
				}
			}
			metrics.PacketsTotal.Add(float64(status.Stats.TotalPackets - lastTotal))
			metrics.DecodeErrors.Add(float64(status.Stats.DecodeErrors - lastDecode))
			metrics.PacketsDropped.Add(float64(status.Stats.Dropped - lastDropped))
			lastTotal, lastDecode, lastDropped = status.Stats.TotalPackets, status.Stats.DecodeErrors, status.Stats.Dropped
			metrics.BlockedSources.Set(float64(status.Stats.BlockedCount))
			metrics.ActiveSources.Set(float64(status.Stats.ActiveSources))
			if status.AnomalyStatus.BaselineEstablished {
				metrics.BaselineEstablished.Set(1)
			} else {
				metrics.BaselineEstablished.Set(0)
			}
		}
	}
}

func runTickLoop(ctx context.Context, orch *pipeline.Orchestrator, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			orch.Tick(now)
		}
	}
}
