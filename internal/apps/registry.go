package apps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Brownie44l1/demohub/internal/config"
	"github.com/Brownie44l1/demohub/internal/decision"
	"github.com/Brownie44l1/demohub/internal/model"
	"github.com/Brownie44l1/demohub/internal/store"
)

var ErrUnknownApp = errors.New("unknown app")

// HistoryStore records served predictions. *store.History implements it.
type HistoryStore interface {
	Save(ctx context.Context, r store.Record) error
	List(ctx context.Context, app string, limit int) ([]store.Record, error)
}

type Registry struct {
	apps  []*App
	byID  map[string]*App
	cache *lru.Cache[string, Result]
	log   *zap.Logger

	history  HistoryStore
	lifetime context.Context

	mu         sync.RWMutex
	thresholds map[string]decision.Thresholds
	now        func() time.Time
}

type Option func(*Registry)

func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithHistory(h HistoryStore) Option {
	return func(r *Registry) { r.history = h }
}

// WithLifetime bounds model loads by ctx. Loads outlive the request that
// starts them but stop when ctx is cancelled.
func WithLifetime(ctx context.Context) Option {
	return func(r *Registry) { r.lifetime = ctx }
}

func withClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds one app per configured entry. loaders maps app id to the
// function that produces its classifier; see SourceLoader.
func NewRegistry(cfg *config.Config, loaders map[string]model.LoadFunc, opts ...Option) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]*App),
		log:      zap.NewNop(),
		lifetime: context.Background(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, ac := range cfg.Apps {
		load, ok := loaders[ac.ID]
		if !ok {
			return nil, fmt.Errorf("no loader for app %q", ac.ID)
		}
		app := &App{
			ID:      ac.ID,
			Title:   ac.Title,
			Kind:    ac.Kind,
			classes: ac.Classes,
			handle:  model.NewHandle(r.lifetime, ac.ID, load),
		}
		if app.Title == "" {
			app.Title = ac.ID
		}
		r.apps = append(r.apps, app)
		r.byID[app.ID] = app
	}

	if cfg.Cache.Size > 0 {
		cache, err := lru.New[string, Result](cfg.Cache.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		r.cache = cache
	}

	r.SetThresholds(cfg)
	return r, nil
}

// SetThresholds applies the global and per-app thresholds from cfg. Cached
// results carry a tier, so the cache is dropped.
func (r *Registry) SetThresholds(cfg *config.Config) {
	th := make(map[string]decision.Thresholds, len(r.apps))
	for _, app := range r.apps {
		th[app.ID] = cfg.ThresholdsFor(app.ID)
	}

	r.mu.Lock()
	r.thresholds = th
	r.mu.Unlock()

	if r.cache != nil {
		r.cache.Purge()
	}
}

func (r *Registry) thresholdsFor(id string) decision.Thresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.thresholds[id]; ok {
		return t
	}
	return decision.DefaultThresholds()
}

func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.apps))
	for _, app := range r.apps {
		infos = append(infos, app.Info())
	}
	return infos
}

func (r *Registry) Get(id string) (*App, error) {
	app, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownApp, id)
	}
	return app, nil
}

func (r *Registry) Predict(ctx context.Context, id string, in Input) (*Result, error) {
	app, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	if err := app.validate(in); err != nil {
		return nil, err
	}

	digest := inputDigest(app, in)
	if r.cache != nil {
		if cached, ok := r.cache.Get(digest); ok {
			res := cached
			res.ID = uuid.NewString()
			res.Cached = true
			res.CreatedAt = r.now().UTC().Format(time.RFC3339)
			r.record(ctx, &res, digest)
			return &res, nil
		}
	}

	start := r.now()
	res, err := app.predict(ctx, in, r.thresholdsFor(id))
	if err != nil {
		return nil, err
	}
	res.ID = uuid.NewString()
	res.CreatedAt = r.now().UTC().Format(time.RFC3339)

	for _, c := range res.Classes {
		if c.Probability < 0 || c.Probability > 1 {
			r.log.Warn("Model output outside [0,1]", zap.String("app", id), zap.String("class", c.Name), zap.Float64("probability", c.Probability))
			break
		}
	}

	r.log.Info("Prediction",
		zap.String("app", id),
		zap.String("label", res.Label),
		zap.Float64("confidence", res.Confidence),
		zap.String("tier", string(res.Tier)),
		zap.Duration("took", r.now().Sub(start)))

	if r.cache != nil {
		r.cache.Add(digest, *res)
	}
	r.record(ctx, res, digest)
	return res, nil
}

func (r *Registry) record(ctx context.Context, res *Result, digest string) {
	if r.history == nil {
		return
	}
	err := r.history.Save(ctx, store.Record{
		ID:          res.ID,
		App:         res.App,
		Label:       res.Label,
		Probability: res.Probability,
		Confidence:  res.Confidence,
		Tier:        string(res.Tier),
		InputDigest: digest,
		CreatedAt:   r.now(),
	})
	if err != nil {
		r.log.Warn("Failed to record prediction", zap.String("app", res.App), zap.Error(err))
	}
}

// History returns nil, nil when no store is configured.
func (r *Registry) History(ctx context.Context, id string, limit int) ([]store.Record, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}
	if r.history == nil {
		return nil, nil
	}
	return r.history.List(ctx, id, limit)
}

// Warm loads the models of apps marked for preloading. Failures are logged
// and stay memoized in the app's handle.
func (r *Registry) Warm(ctx context.Context, cfg *config.Config) {
	for _, ac := range cfg.Apps {
		if ctx.Err() != nil {
			return
		}
		if !ac.Preload {
			continue
		}
		app, ok := r.byID[ac.ID]
		if !ok {
			continue
		}
		if _, err := app.handle.Get(ctx); err != nil {
			r.log.Error("Failed to preload model", zap.String("app", ac.ID), zap.Error(err))
			continue
		}
		r.log.Info("Model preloaded", zap.String("app", ac.ID))
	}
}

func (r *Registry) Close() error {
	var errs []error
	for _, app := range r.apps {
		if err := app.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("app %s: %w", app.ID, err))
		}
	}
	return errors.Join(errs...)
}

func inputDigest(app *App, in Input) string {
	h := sha256.New()
	h.Write([]byte(app.ID))
	h.Write([]byte{0})
	if app.Kind == config.KindText {
		h.Write([]byte(in.Text))
	} else {
		h.Write(in.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
