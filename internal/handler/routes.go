package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ClareAI/astra-comms-core/internal/backend"
	"github.com/ClareAI/astra-comms-core/internal/config"
	"github.com/ClareAI/astra-comms-core/internal/core/event"
	"github.com/ClareAI/astra-comms-core/internal/core/session"
	"github.com/ClareAI/astra-comms-core/internal/domain"
	"github.com/ClareAI/astra-comms-core/internal/escalation"
	"github.com/ClareAI/astra-comms-core/internal/eventqueue"
	"github.com/ClareAI/astra-comms-core/internal/orchestrator"
	"github.com/ClareAI/astra-comms-core/internal/providers"
	"github.com/ClareAI/astra-comms-core/internal/repository"
	"github.com/ClareAI/astra-comms-core/internal/storage"
	"github.com/ClareAI/astra-comms-core/internal/telephony"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/ClareAI/astra-comms-core/pkg/pubsub"
	"github.com/ClareAI/astra-comms-core/pkg/redis"
	"github.com/ClareAI/astra-comms-core/pkg/twilio"
	"go.uber.org/zap"
)

// HandlerManager owns every service and registers all routes. It is built
// once at startup; a construction error is fatal (no partial functionality
// is served).
type HandlerManager struct {
	config *config.Config

	bus         event.EventBus
	store       *session.Store
	sessionMgr  *session.Manager
	registry    *providers.Registry
	health      *providers.HealthCache
	metrics     *providers.Metrics
	router      *providers.Router
	templates   *storage.TemplateCache
	backend     *backend.Client
	repoManager repository.RepositoryManager
	callService *twilio.CallService
	streams     *telephony.StreamRegistry
	orch        *orchestrator.Service
	ladder      *escalation.Ladder
	engine      *escalation.Engine
	queue       eventqueue.DurableQueue

	telephonyHandler *TelephonyHandler
	eventsHandler    *EventsHandler
	adminHandler     *AdminHandler
}

// NewHandlerManager builds the full service graph from configuration.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	if cfg.Telephony.AccountSID == "" || cfg.Telephony.AuthToken == "" {
		return nil, fmt.Errorf("telephony credentials are required")
	}
	if cfg.Telephony.CallbackBaseURL == "" {
		return nil, fmt.Errorf("telephony callback base url is required")
	}

	redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis is required for caches and the outbound queue: %w", err)
	}

	// durable outbound queue: Pub/Sub in production, the Redis list locally
	var queue eventqueue.DurableQueue
	if cfg.PubSub.Enabled {
		ps, err := pubsub.NewPubSubService(context.Background(), &pubsub.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			TopicName: cfg.PubSub.TopicName,
		})
		if err != nil {
			return nil, fmt.Errorf("pubsub queue init failed: %w", err)
		}
		queue = ps
	} else {
		queue = eventqueue.NewRedisQueue(redisSvc, cfg.Cache.BackendCacheNamespace)
	}

	var repoManager repository.RepositoryManager
	if cfg.Postgres.DSN != "" {
		repoManager, err = repository.NewRepositoryManager(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("audit database init failed: %w", err)
		}
	} else {
		logger.Base().Warn("no postgres dsn configured, escalation audit trail disabled")
	}

	bus := event.NewEventBus()
	bus.Use(event.LoggingMiddleware)
	bus.Use(event.RecoveryMiddleware)

	registry := providers.NewRegistry()
	registry.LoadFromConfig(&cfg.Providers)
	registerDrivers(registry, cfg)

	health := providers.NewHealthCache(cfg.Cache.ProviderHealthWindow)
	metrics := providers.NewMetrics()
	router := providers.NewRouter(registry, health, metrics)

	store := session.NewStore(cfg.Cache.MaxSessions)
	templates := storage.NewTemplateCache(cfg.Cache.TemplateCacheBytes)

	backendClient := backend.NewClient(backend.Config{
		BaseURL:           cfg.Backend.BaseURL,
		ServiceCredential: cfg.Backend.ServiceCredential,
		RequestTimeout:    cfg.Backend.RequestTimeout,
		OrderCacheTTL:     cfg.Backend.OrderCacheTTL,
		PartyCacheTTL:     cfg.Backend.PartyCacheTTL,
		CacheNamespace:    cfg.Cache.BackendCacheNamespace,
	}, redisSvc, queue)

	callService := twilio.NewCallService(twilio.Config{
		AccountSID:      cfg.Telephony.AccountSID,
		AuthToken:       cfg.Telephony.AuthToken,
		CallbackBaseURL: cfg.Telephony.CallbackBaseURL,
		WebhookSecret:   cfg.Telephony.WebhookSecret,
	})

	streams := telephony.NewStreamRegistry()
	responder := orchestrator.NewHTTPResponder(cfg.LLM.Endpoint, cfg.LLM.APIKey)

	orch := orchestrator.NewService(
		store, router, templates, backendClient, repoManager,
		callService, streams, bus, responder,
		cfg.DefaultLang, cfg.DefaultVoice,
	)

	ladder := escalation.DefaultLadder()
	engine := escalation.NewEngine(
		ladder, backendClient, orch, callService, bus, queue, repoManager,
		cfg.Telephony.CallerIDByPurpose,
	)
	engine.SetSupportPhone(cfg.Telephony.SupportPhone)

	m := &HandlerManager{
		config:      cfg,
		bus:         bus,
		store:       store,
		registry:    registry,
		health:      health,
		metrics:     metrics,
		router:      router,
		templates:   templates,
		backend:     backendClient,
		repoManager: repoManager,
		callService: callService,
		streams:     streams,
		orch:        orch,
		ladder:      ladder,
		engine:      engine,
		queue:       queue,
	}

	m.telephonyHandler = NewTelephonyHandler(orch, streams, cfg.Telephony.WebhookSecret)
	m.eventsHandler = NewEventsHandler(engine, bus)
	m.adminHandler = NewAdminHandler(engine, ladder, registry, health, metrics, store, bus)

	// cross-pod session registry, teardown broadcast, inactivity sweeper
	podID := cfg.Env + "-" + cfg.Port
	m.sessionMgr = session.NewManager(redisSvc, podID)
	m.sessionMgr.SubscribeToCleanup(context.Background(), func(callID string) {
		streams.Close(callID)
	})
	bus.Subscribe(event.CallPlaced, func(ev *event.Event) {
		data, ok := ev.GetCallData()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.sessionMgr.Register(ctx, session.SessionInfo{
			CallID:  data.CallID,
			Purpose: data.Purpose,
			OrderID: data.OrderID,
		})
	})
	bus.Subscribe(event.CallEnded, func(ev *event.Event) {
		data, ok := ev.GetCallData()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.sessionMgr.Unregister(ctx, data.CallID)
		m.sessionMgr.NotifyCleanup(ctx, data.CallID)
	})
	go store.StartCleanupRoutine(context.Background(), time.Minute, cfg.Cache.SessionInactivityTTL)

	return m, nil
}

// registerDrivers wires every configured speech driver into the registry.
func registerDrivers(registry *providers.Registry, cfg *config.Config) {
	for name, dc := range cfg.Providers.Drivers {
		var driver providers.Driver
		switch name {
		case "local":
			driver = providers.NewLocalDriver(name, dc.Endpoint)
		case "deepgram":
			driver = providers.NewDeepgramDriver(dc.Endpoint, dc.Credential)
		case "elevenlabs":
			driver = providers.NewElevenLabsDriver(dc.Endpoint, dc.Credential)
		case "google":
			driver = providers.NewGoogleDriver(dc.Endpoint, dc.Credential)
		case "azure":
			driver = providers.NewAzureDriver(dc.Endpoint, dc.Credential)
		default:
			logger.Base().Warn("unknown driver in config, skipped", zap.String("driver", name))
			continue
		}
		registry.Register(domain.ProviderKindASR, driver)
		registry.Register(domain.ProviderKindTTS, driver)
	}
}

// SetupAllRoutes registers the public webhook surface (HMAC-signed) and
// the internal admin surface (bearer-authenticated) on the shared router.
func (m *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)

	// public surface: Telephony Provider webhooks + media stream
	public := router.PathPrefix("/telephony").Subrouter()
	public.Use(LoggingMiddleware)

	signed := public.NewRoute().Subrouter()
	signed.Use(SignatureMiddleware(m.config.Telephony.WebhookSecret))
	signed.HandleFunc("/call-status", m.telephonyHandler.HandleCallStatus).Methods("POST")
	signed.HandleFunc("/keypad", m.telephonyHandler.HandleKeypad).Methods("POST")
	signed.HandleFunc("/recording", m.telephonyHandler.HandleRecording).Methods("POST")

	// the answer URL is verified by its own placement signature; the media
	// stream is a WebSocket upgrade and cannot carry a body HMAC
	public.HandleFunc("/answer", m.telephonyHandler.HandleAnswer).Methods("POST")
	public.HandleFunc("/stream", m.telephonyHandler.HandleStream).Methods("GET")

	// public surface: Core Backend business events
	events := router.PathPrefix("/events").Subrouter()
	events.Use(LoggingMiddleware)
	events.Use(SignatureMiddleware(m.config.Telephony.WebhookSecret))
	events.HandleFunc("/order/{action}", m.eventsHandler.HandleOrderEvent).Methods("POST")
	events.HandleFunc("/rider/{action}", m.eventsHandler.HandleRiderEvent).Methods("POST")
	events.HandleFunc("/address/changed", m.eventsHandler.HandleAddressChanged).Methods("POST")

	// internal/admin surface
	admin := router.NewRoute().Subrouter()
	admin.Use(LoggingMiddleware)
	admin.Use(AdminAuthMiddleware(m.config.AdminAuth.BearerSecret))
	admin.HandleFunc("/escalation/start", m.adminHandler.HandleEscalationStart).Methods("POST")
	admin.HandleFunc("/escalation/stop", m.adminHandler.HandleEscalationStop).Methods("POST")
	admin.HandleFunc("/providers/health", m.adminHandler.HandleProvidersHealth).Methods("GET")
	admin.HandleFunc("/providers/priority", m.adminHandler.HandleSetPriority).Methods("PUT")
	admin.HandleFunc("/sessions", m.adminHandler.HandleListSessions).Methods("GET")
	admin.HandleFunc("/sessions/{callId}", m.adminHandler.HandleGetSession).Methods("GET")
	admin.HandleFunc("/stats", m.adminHandler.HandleStats).Methods("GET")

	router.HandleFunc("/health", m.handleHealthCheck).Methods("GET")
}

func (m *HandlerManager) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":   "ok",
		"sessions": m.store.Count(),
	}
	if m.repoManager != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := m.repoManager.Ping(ctx); err != nil {
			status["database"] = "down"
		} else {
			status["database"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// Close shuts down what the manager owns.
func (m *HandlerManager) Close() {
	m.bus.Close()
	if m.repoManager != nil {
		m.repoManager.Close()
	}
	if closer, ok := m.queue.(interface{ Close() error }); ok {
		closer.Close()
	}
}
