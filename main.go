package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	goredis "github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodeFleck/sensorvision-sub010/internal/auth"
	"github.com/CodeFleck/sensorvision-sub010/internal/config"
	devicerepo "github.com/CodeFleck/sensorvision-sub010/internal/devices/infrastructure/postgres"
	devicehttp "github.com/CodeFleck/sensorvision-sub010/internal/devices/interfaces/http"
	"github.com/CodeFleck/sensorvision-sub010/internal/eventing"
	eventingrepo "github.com/CodeFleck/sensorvision-sub010/internal/eventing/infrastructure/postgres"
	fleetapp "github.com/CodeFleck/sensorvision-sub010/internal/fleet/application"
	fleetevents "github.com/CodeFleck/sensorvision-sub010/internal/fleet/application/events"
	fleetrepo "github.com/CodeFleck/sensorvision-sub010/internal/fleet/infrastructure/postgres"
	fleethttp "github.com/CodeFleck/sensorvision-sub010/internal/fleet/interfaces/http"
	healthapp "github.com/CodeFleck/sensorvision-sub010/internal/health/application"
	"github.com/CodeFleck/sensorvision-sub010/internal/live"
	notifapp "github.com/CodeFleck/sensorvision-sub010/internal/notifications/application"
	"github.com/CodeFleck/sensorvision-sub010/internal/notifications/application/channels"
	notifrepo "github.com/CodeFleck/sensorvision-sub010/internal/notifications/infrastructure/postgres"
	notifhttp "github.com/CodeFleck/sensorvision-sub010/internal/notifications/interfaces/http"
	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	ruleapp "github.com/CodeFleck/sensorvision-sub010/internal/rules/application"
	ruleevents "github.com/CodeFleck/sensorvision-sub010/internal/rules/application/events"
	rulerepo "github.com/CodeFleck/sensorvision-sub010/internal/rules/infrastructure/postgres"
	rulehttp "github.com/CodeFleck/sensorvision-sub010/internal/rules/interfaces/http"
	telemetryapp "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/application"
	telemetryevents "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/application/events"
	telemetryrepo "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/infrastructure/postgres"
	telemetryhttp "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/interfaces/http"
	telemetrymqtt "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/interfaces/mqtt"
	variablesapp "github.com/CodeFleck/sensorvision-sub010/internal/variables/application"
	variablerepo "github.com/CodeFleck/sensorvision-sub010/internal/variables/infrastructure/postgres"
	variableredis "github.com/CodeFleck/sensorvision-sub010/internal/variables/infrastructure/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deviceRepo := devicerepo.NewDeviceRepository(db)
	orgRepo := devicerepo.NewOrganizationRepository(db)
	variableRepo := variablerepo.NewVariableRepository(db)
	valueRepo := variablerepo.NewValueRepository(db)
	recordRepo := telemetryrepo.NewRecordRepository(db)
	ruleRepo := rulerepo.NewRuleRepository(db)
	alertRepo := rulerepo.NewAlertRepository(db)
	globalRuleRepo := fleetrepo.NewGlobalRuleRepository(db)
	globalAlertRepo := fleetrepo.NewGlobalAlertRepository(db)
	userRepo := notifrepo.NewUserRepository(db)
	prefRepo := notifrepo.NewPreferenceRepository(db)
	logRepo := notifrepo.NewLogRepository(db)

	// Eventing: synchronous in-memory bus behind a Postgres outbox.
	bus := eventing.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(telemetryevents.TelemetryReceived{})
	registry.Register(ruleevents.RuleTriggered{})
	registry.Register(ruleevents.AlertTriggered{})
	registry.Register(fleetevents.GlobalAlertTriggered{})
	outboxStore := eventingrepo.NewOutboxStore(db)
	dispatcher := eventing.NewDispatcher(bus, outboxStore, registry)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, bus)

	// Latest-value projection, optionally mirrored into Redis.
	var latestCache *variableredis.LatestCache
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		latestCache, err = variableredis.NewLatestCache(client)
		if err != nil {
			logger.Fatalf("latest cache error: %v", err)
		}
	}
	registryOpts := []variablesapp.RegistryOption{}
	if latestCache != nil {
		registryOpts = append(registryOpts, variablesapp.WithLatestCache(latestCache))
	}
	variableRegistry, err := variablesapp.NewRegistry(variableRepo, valueRepo, registryOpts...)
	if err != nil {
		logger.Fatalf("variable registry error: %v", err)
	}

	hub := live.NewHub()
	go hub.Run(ctx)

	// Notification channels.
	dispatcherOpts := []notifapp.DispatcherOption{
		notifapp.WithChannel(channels.NewWebhookChannel(nil)),
		notifapp.WithChannel(live.NewNotificationChannel(hub)),
		notifapp.WithChatWebhookURL(cfg.Notify.ChatWebhookURL),
	}
	if cfg.Notify.SMTPAddr != "" {
		mailChannel, err := channels.NewMailChannel(cfg.Notify.SMTPAddr, cfg.Notify.SMTPFrom, nil)
		if err != nil {
			logger.Fatalf("mail channel error: %v", err)
		}
		dispatcherOpts = append(dispatcherOpts, notifapp.WithChannel(mailChannel))
	}
	if cfg.Notify.SMSGatewayURL != "" {
		smsChannel, err := channels.NewSMSChannel(cfg.Notify.SMSGatewayURL, cfg.Notify.SMSGatewayKey)
		if err != nil {
			logger.Fatalf("sms channel error: %v", err)
		}
		dispatcherOpts = append(dispatcherOpts, notifapp.WithChannel(smsChannel))
	}
	notifDispatcher, err := notifapp.NewDispatcher(userRepo, prefRepo, logRepo, logger, dispatcherOpts...)
	if err != nil {
		logger.Fatalf("notification dispatcher error: %v", err)
	}
	notifService, err := notifapp.NewService(userRepo, prefRepo, logRepo)
	if err != nil {
		logger.Fatalf("notification service error: %v", err)
	}

	// Per-device rule engine, invoked synchronously on every record.
	engine, err := ruleapp.NewEngine(ruleRepo, alertRepo, logger,
		ruleapp.WithDispatcher(notifDispatcher),
		ruleapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("rule engine error: %v", err)
	}
	ruleService, err := ruleapp.NewRuleService(ruleRepo)
	if err != nil {
		logger.Fatalf("rule service error: %v", err)
	}

	// Fleet-wide rules over the latest-value projection.
	latestReader := fleetapp.FallbackLatestReader{Fallback: variableRepo}
	if latestCache != nil {
		latestReader.Primary = latestCache
	}
	aggregator, err := fleetapp.NewAggregator(deviceRepo, latestReader)
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}
	evaluator, err := fleetapp.NewEvaluator(globalRuleRepo, globalAlertRepo, aggregator, logger,
		fleetapp.WithDispatcher(notifDispatcher),
		fleetapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}
	fleetService, err := fleetapp.NewService(globalRuleRepo, globalAlertRepo)
	if err != nil {
		logger.Fatalf("fleet service error: %v", err)
	}
	go fleetapp.NewScheduler(evaluator, cfg.Fleet.TickInterval, logger).Start(ctx)

	// Push triggered alerts to live subscribers.
	publisher.Subscribe(eventing.EventTypeOf[ruleevents.AlertTriggered](), func(_ context.Context, event any) error {
		evt, ok := event.(ruleevents.AlertTriggered)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		hub.BroadcastAlert(evt.OrganizationID, evt)
		return nil
	})
	publisher.Subscribe(eventing.EventTypeOf[fleetevents.GlobalAlertTriggered](), func(_ context.Context, event any) error {
		evt, ok := event.(fleetevents.GlobalAlertTriggered)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		hub.BroadcastAlert(evt.OrganizationID, evt)
		return nil
	})

	telemetryService, err := telemetryapp.NewService(
		deviceRepo, recordRepo, variableRegistry,
		cfg.Ingest.AutoProvision(), cfg.Ingest.DefaultOrgID, logger,
		telemetryapp.WithEvaluator(engine),
		telemetryapp.WithLivePusher(hub),
		telemetryapp.WithPublisher(publisher))
	if err != nil {
		logger.Fatalf("telemetry service error: %v", err)
	}

	sweeper, err := healthapp.NewSweeper(deviceRepo, cfg.Health.OfflineAfter, cfg.Health.SweepInterval, logger)
	if err != nil {
		logger.Fatalf("sweeper error: %v", err)
	}
	go sweeper.Start(ctx)

	if cfg.MQTT.BrokerURL != "" {
		mqttOpts := paho.NewClientOptions().
			AddBroker(cfg.MQTT.BrokerURL).
			SetClientID(cfg.MQTT.ClientID).
			SetAutoReconnect(true)
		consumer, err := telemetrymqtt.NewConsumer(paho.NewClient(mqttOpts), cfg.MQTT.Topic, telemetryService, logger)
		if err != nil {
			logger.Fatalf("mqtt consumer error: %v", err)
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.Printf("mqtt consumer: %v", err)
			}
		}()
	}

	ingestHandler, err := telemetryhttp.NewIngestHandler(telemetryService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	rulesHandler, err := rulehttp.NewHandler(ruleService, engine)
	if err != nil {
		logger.Fatalf("rules handler error: %v", err)
	}
	fleetHandler, err := fleethttp.NewHandler(fleetService, evaluator)
	if err != nil {
		logger.Fatalf("fleet handler error: %v", err)
	}
	notificationsHandler, err := notifhttp.NewHandler(notifService, engine)
	if err != nil {
		logger.Fatalf("notifications handler error: %v", err)
	}
	wsHandler, err := live.NewServeWS(hub, logger)
	if err != nil {
		logger.Fatalf("ws handler error: %v", err)
	}

	devicesHandler, err := devicehttp.NewHandler(deviceRepo, orgRepo, variableRegistry, telemetryService, valueRepo)
	if err != nil {
		logger.Fatalf("devices handler error: %v", err)
	}

	deviceAuth := auth.NewDeviceTokenMiddleware([]byte(cfg.Ingest.DeviceTokenSecret))

	mux := http.NewServeMux()
	mux.Handle("/api/v1/telemetry", deviceAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/devices", devicesHandler)
	mux.Handle("/api/v1/devices/", devicesHandler)
	mux.Handle("/api/v1/organizations/", devicesHandler)
	mux.Handle("/api/v1/variables/", devicesHandler)
	mux.Handle("/api/v1/rules", rulesHandler)
	mux.Handle("/api/v1/rules/", rulesHandler)
	mux.Handle("/api/v1/alerts", rulesHandler)
	mux.Handle("/api/v1/alerts/report", notificationsHandler)
	mux.Handle("/api/v1/alerts/", rulesHandler)
	mux.Handle("/api/v1/global-rules", fleetHandler)
	mux.Handle("/api/v1/global-rules/", fleetHandler)
	mux.Handle("/api/v1/global-alerts", fleetHandler)
	mux.Handle("/api/v1/users", notificationsHandler)
	mux.Handle("/api/v1/preferences", notificationsHandler)
	mux.Handle("/api/v1/preferences/", notificationsHandler)
	mux.Handle("/api/v1/notifications", notificationsHandler)
	mux.Handle("/api/v1/notifications/export", notificationsHandler)
	mux.Handle("/api/v1/live", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: loggingMiddleware(mux, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err)
	}
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
