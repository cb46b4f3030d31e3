package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"aegis/pkg/audit"
	"aegis/pkg/diff"
	"aegis/pkg/hardening"
	"aegis/pkg/httpx"
	"aegis/pkg/metrics"
	"aegis/pkg/models"
	"aegis/pkg/provider"
	"aegis/pkg/ratelimit"
	"aegis/pkg/reconcile"
	"aegis/pkg/store"
	"aegis/pkg/stream"
	"aegis/pkg/telemetry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	Store               store.PolicyStore
	Engine              *diff.Engine
	Reconciler          *reconcile.Reconciler
	Provider            *provider.Client
	AuditLog            *audit.Writer
	Cache               store.Cache
	Events              *stream.Hub
	Metrics             *metrics.Registry
	AuthToken           string
	ZoneCacheTTL        time.Duration
	MaxRequestBodyBytes int64
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openStoreFn     func(context.Context) (store.PolicyStore, *audit.Writer, func(), error)
	openRedisFn     func(context.Context) (*redis.Client, error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := run(initTelemetryFn, openStoreFn, openRedisFn, listenFn); err != nil {
		logFatalf("accessd: %v", err)
	}
}

func run(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openStore func(context.Context) (store.PolicyStore, *audit.Writer, func(), error),
	openRedis func(context.Context) (*redis.Client, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openStore == nil {
		openStore = func(ctx context.Context) (store.PolicyStore, *audit.Writer, func(), error) {
			pool, err := store.NewPostgresPool(ctx)
			if err != nil {
				return nil, nil, nil, err
			}
			return &store.PostgresPolicies{DB: pool}, &audit.Writer{DB: pool}, pool.Close, nil
		}
	}
	if openRedis == nil {
		openRedis = store.NewRedis
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "accessd")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	providerBaseURL := env("PROVIDER_BASE_URL", "")
	providerToken := env("PROVIDER_API_TOKEN", "")
	if strings.TrimSpace(providerBaseURL) == "" {
		return errors.New("PROVIDER_BASE_URL is required")
	}
	runtimeEnv := env("ENVIRONMENT", env("APP_ENV", ""))
	if err := hardening.ValidateProduction(hardening.Options{
		Service:            "accessd",
		Environment:        runtimeEnv,
		StrictProdSecurity: env("STRICT_PROD_SECURITY", "true"),
		DatabaseRequireTLS: env("DATABASE_REQUIRE_TLS", ""),
		RedisAddr:          env("REDIS_ADDR", ""),
		RedisRequireTLS:    env("REDIS_REQUIRE_TLS", ""),
		RedisTLSInsecure:   env("REDIS_TLS_INSECURE", ""),
		CORSAllowedOrigins: env("CORS_ALLOWED_ORIGINS", ""),
		ProviderToken:      providerToken,
		ProviderBaseURL:    providerBaseURL,
	}); err != nil {
		return err
	}

	policies, auditLog, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var redisClient *redis.Client
	if env("REDIS_ADDR", "") != "" {
		redisClient, err = openRedis(ctx)
		if err != nil {
			log.Printf("redis unavailable, using in-memory cache: %v", err)
			redisClient = nil
		}
	}
	var cache store.Cache
	if redisClient != nil {
		cache = &store.RedisCache{Client: redisClient}
	} else {
		cache = store.NewMemoryCache()
	}

	providerClient := provider.NewClient(providerBaseURL, providerToken, envInt("PROVIDER_MAX_INFLIGHT", 4))
	providerClient.HTTPClient = telemetry.InstrumentClient(providerClient.HTTPClient)

	events := stream.NewHub()
	var sinks audit.MultiSink
	if auditLog != nil {
		sinks = append(sinks, auditLog)
	}
	sinks = append(sinks, audit.HubSink{Hub: events})
	if env("KAFKA_ENABLED", "false") == "true" {
		kafkaSink, err := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: strings.Split(env("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   env("KAFKA_TOPIC", "aegis.audit.events"),
		})
		if err != nil {
			return err
		}
		defer func() { _ = kafkaSink.Close() }()
		sinks = append(sinks, kafkaSink)
	}

	registry := metrics.NewRegistry()
	reconciler := &reconcile.Reconciler{
		Store:    policies,
		Provider: providerClient,
		Audit:    sinks,
		Metrics:  registry,
	}
	engine := &diff.Engine{
		Store:      policies,
		Reconciler: reconciler,
		Metrics:    registry,
	}

	s := &Server{
		Store:               policies,
		Engine:              engine,
		Reconciler:          reconciler,
		Provider:            providerClient,
		AuditLog:            auditLog,
		Cache:               cache,
		Events:              events,
		Metrics:             registry,
		AuthToken:           env("API_AUTH_TOKEN", ""),
		ZoneCacheTTL:        envDurationSec("ZONE_CACHE_TTL_SEC", 300),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}
	if s.AuthToken == "" {
		if isProductionLikeEnv(runtimeEnv) {
			return errors.New("API_AUTH_TOKEN is required in production-like environments")
		}
		log.Printf("accessd running without API auth")
	}

	var limiter ratelimit.Limiter
	rateWindow := envDurationSec("RATE_LIMIT_WINDOW_SEC", 60)
	if redisClient != nil {
		limiter = ratelimit.NewRedis(redisClient, rateWindow)
	} else {
		limiter = ratelimit.NewInMemory(rateWindow)
	}

	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("accessd"))
	r.Use(registry.Middleware)
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "accessd"})
	})
	r.Get("/metricsz", registry.Handler())

	r.Mount("/", s.apiRoutes(limiter, envInt("RATE_LIMIT_PER_WINDOW", 120)))

	addr := env("ADDR", ":8080")
	log.Printf("accessd listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 60),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(server)
}

func (s *Server) apiRoutes(limiter ratelimit.Limiter, limit int) chi.Router {
	api := chi.NewRouter()
	api.Use(s.authMiddleware)
	api.Use(ratelimit.Middleware(limiter, limit, tenantOf))
	api.Get("/v1/zones", s.listZones)
	api.Post("/v1/policies", s.createPolicy)
	api.Get("/v1/policies", s.listPolicies)
	api.Get("/v1/policies/{externalID}", s.getPolicy)
	api.Delete("/v1/policies/{externalID}", s.deletePolicy)
	api.Post("/v1/policies/{externalID}/sync", s.syncPolicy)
	api.Post("/v1/policies:upsert", s.upsertPolicy)
	api.Post("/v1/policies:check", s.checkPolicy)
	api.Post("/v1/policies:bulk", s.bulkCreate)
	api.Get("/v1/audit", s.listAudit)
	api.Get("/v1/events", s.streamEvents)
	return api
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.AuthToken)) != 1 {
				httpx.Error(w, 401, "unauthorized")
				return
			}
		}
		if tenantOf(r) == "" {
			httpx.Error(w, 400, "X-Tenant header required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tenant"))
}

func actorOf(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return "api"
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var desired models.DesiredConfig
	if err := json.NewDecoder(r.Body).Decode(&desired); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	p, _, err := s.Engine.Upsert(r.Context(), tenantOf(r), desired, actorOf(r))
	if err != nil && errors.Is(err, models.ErrValidation) {
		httpx.Error(w, 422, err.Error())
		return
	}
	if err != nil && p.ID == "" {
		internalServerError(w, "create", err)
		return
	}
	// Remote sync failures are reflected in the persisted status.
	httpx.WriteJSON(w, 201, p)
}

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.Store.List(r.Context(), tenantOf(r))
	if err != nil {
		internalServerError(w, "list", err)
		return
	}
	if policies == nil {
		policies = []models.Policy{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"policies": policies})
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPolicy(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, 200, p)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPolicy(w, r)
	if !ok {
		return
	}
	if err := s.Reconciler.Delete(r.Context(), &p, actorOf(r)); err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) {
			httpx.Error(w, 502, "remote delete failed: "+apiErr.Message)
			return
		}
		internalServerError(w, "delete", err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) syncPolicy(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPolicy(w, r)
	if !ok {
		return
	}
	err := s.Reconciler.Sync(r.Context(), &p)
	if err != nil && errors.Is(err, models.ErrValidation) {
		httpx.Error(w, 422, err.Error())
		return
	}
	// The record carries the outcome; a failed sync reads as status inactive.
	httpx.WriteJSON(w, 200, p)
}

func (s *Server) upsertPolicy(w http.ResponseWriter, r *http.Request) {
	var desired models.DesiredConfig
	if err := json.NewDecoder(r.Body).Decode(&desired); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	p, action, err := s.Engine.Upsert(r.Context(), tenantOf(r), desired, actorOf(r))
	if err != nil && errors.Is(err, models.ErrValidation) {
		httpx.Error(w, 422, err.Error())
		return
	}
	if err != nil && p.ID == "" {
		internalServerError(w, "upsert", err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"policy": p, "action": action})
}

func (s *Server) checkPolicy(w http.ResponseWriter, r *http.Request) {
	var desired models.DesiredConfig
	if err := json.NewDecoder(r.Body).Decode(&desired); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	res, err := s.Engine.Check(r.Context(), tenantOf(r), desired)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			httpx.Error(w, 422, err.Error())
			return
		}
		internalServerError(w, "check", err)
		return
	}
	httpx.WriteJSON(w, 200, res)
}

func (s *Server) bulkCreate(w http.ResponseWriter, r *http.Request) {
	var desired []models.DesiredConfig
	if err := json.NewDecoder(r.Body).Decode(&desired); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	policies, itemErrs := s.Engine.BulkCreate(r.Context(), tenantOf(r), actorOf(r), desired)
	if policies == nil {
		policies = []models.Policy{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"policies": policies, "errors": itemErrs})
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "zones"
	if cached, err := s.Cache.Get(r.Context(), cacheKey); err == nil {
		var zones []models.Zone
		if json.Unmarshal([]byte(cached), &zones) == nil {
			httpx.WriteJSON(w, 200, map[string]any{"zones": zones})
			return
		}
	}
	s.Metrics.IncProviderCall("list_zones")
	providerZones, err := s.Provider.ListZones(r.Context())
	if err != nil {
		httpx.Error(w, 502, "zone listing failed: "+err.Error())
		return
	}
	zones := make([]models.Zone, 0, len(providerZones))
	for _, z := range providerZones {
		zones = append(zones, models.Zone{ID: z.ID, Name: z.Name})
	}
	if raw, err := json.Marshal(zones); err == nil {
		_ = s.Cache.Set(r.Context(), cacheKey, string(raw), s.ZoneCacheTTL)
	}
	httpx.WriteJSON(w, 200, map[string]any{"zones": zones})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.AuditLog == nil {
		httpx.Error(w, 503, "audit log unavailable")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	events, err := s.AuditLog.List(r.Context(), tenantOf(r), r.URL.Query().Get("entity_id"), limit)
	if err != nil {
		internalServerError(w, "audit list", err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	httpx.WriteJSON(w, 200, map[string]any{"events": events})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	tenant := tenantOf(r)
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(tenant, 64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", tenant, nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func (s *Server) lookupPolicy(w http.ResponseWriter, r *http.Request) (models.Policy, bool) {
	externalID := chi.URLParam(r, "externalID")
	p, err := s.Store.GetByExternalID(r.Context(), tenantOf(r), externalID)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, 404, "not found")
		return models.Policy{}, false
	}
	if err != nil {
		internalServerError(w, "get", err)
		return models.Policy{}, false
	}
	return p, true
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func internalServerError(w http.ResponseWriter, op string, err error) {
	if err != nil {
		log.Printf("accessd %s: %v", op, err)
	}
	httpx.Error(w, 500, "internal error")
}

func isProductionLikeEnv(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
