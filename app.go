package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"fieldscan/analysis"
	"fieldscan/backend"
	"fieldscan/metrics"
	"fieldscan/models"
	"fieldscan/sessions"
	"fieldscan/storage"
	"fieldscan/workflow"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// session is everything the API keeps in memory for one browser session.
type session struct {
	id      string
	results *analysis.Context
	flow    *workflow.Orchestrator
}

type App struct {
	cfg      Config
	log      *zap.Logger
	mongo    *mongo.Client
	store    analysis.Store
	backend  *backend.Client
	sessions *sessions.Registry[*session]
	weather  *cache.Cache // nil disables caching
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	geoHTTP  *http.Client // nil means http.DefaultClient

	// Runs outlive the request that started them; they stop on shutdown.
	runCtx   context.Context
	stopRuns context.CancelFunc
	runs     sync.WaitGroup
}

// newApp opens the configured store and assembles the application.
func newApp(ctx context.Context, cfg Config, log *zap.Logger) (*App, error) {
	var (
		store  analysis.Store
		client *mongo.Client
	)
	switch cfg.Store {
	case "mongo":
		c, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		ms, err := storage.NewMongoStore(ctx, c.Database(cfg.MongoDB), cfg.SessionRetention)
		if err != nil {
			_ = c.Disconnect(ctx)
			return nil, err
		}
		store, client = ms, c
	case "file", "":
		fs, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		store = fs
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bc := backend.New(cfg.BackendURL, backend.WithLogger(log.Named("backend")), backend.WithMetrics(m))
	app := assembleApp(cfg, log, store, bc, reg, m)
	app.mongo = client
	return app, nil
}

// assembleApp wires an App around already-built dependencies. m must be
// registered on reg, which is what /metrics serves.
func assembleApp(cfg Config, log *zap.Logger, store analysis.Store, bc *backend.Client, reg *prometheus.Registry, m *metrics.Metrics) *App {
	runCtx, stop := context.WithCancel(context.Background())
	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		backend:  bc,
		metrics:  m,
		promReg:  reg,
		runCtx:   runCtx,
		stopRuns: stop,
	}
	if cfg.WeatherCacheTTL > 0 {
		a.weather = cache.New(cfg.WeatherCacheTTL, 2*cfg.WeatherCacheTTL)
	}
	a.sessions = sessions.New(cfg.SessionIdleTTL, a.loadSession)
	a.sessions.OnEvicted(func(id string, s *session) {
		s.flow.Close()
		a.countSessions()
		a.log.Debug("session evicted", zap.String("session", id))
	})
	return a
}

func storeKey(sessionID string) string { return "session:" + sessionID }

func (a *App) loadSession(ctx context.Context, id string) (*session, error) {
	results, err := analysis.Load(ctx, a.store, storeKey(id), a.log.Named("analysis"))
	if err != nil {
		return nil, err
	}
	results.OnCommit(func(models.AnalysisResult) { a.metrics.ResultCommits.Inc() })
	flow := workflow.New(results, a.backend, workflow.Options{
		TickInterval:  a.cfg.TickInterval,
		RedirectDelay: a.cfg.RedirectDelay,
		CaptureDelay:  a.cfg.CaptureDelay,
		Logger:        a.log.Named("workflow").With(zap.String("session", id)),
		Metrics:       a.metrics,
	})
	return &session{id: id, results: results, flow: flow}, nil
}

// getSession returns the in-memory session for id, loading it if needed.
func (a *App) getSession(ctx context.Context, id string) (*session, error) {
	s, err := a.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	a.countSessions()
	return s, nil
}

func (a *App) countSessions() {
	a.metrics.ActiveSessions.Set(float64(a.sessions.Len()))
}

// startRun begins an analysis that is not tied to the calling request. The
// session is pinned until the run resolves: an idle eviction mid-run would
// let a reloaded copy start a second run and hide this one's commit.
func (a *App) startRun(s *session) error {
	done, err := s.flow.Start(a.runCtx)
	if err != nil {
		return err
	}
	a.sessions.Pin(s.id, s)
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		<-done
		a.sessions.Unpin(s.id)
	}()
	return nil
}

func (a *App) close(ctx context.Context) {
	a.stopRuns()
	a.runs.Wait()
	if a.mongo != nil {
		_ = a.mongo.Disconnect(ctx)
	}
}
