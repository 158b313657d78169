package service

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-riskmap/internal/metrics"
)

// ErrCooldown is returned when the import trigger is still disabled.
var ErrCooldown = eris.New("import trigger is cooling down")

// ImportTrigger starts the backend ingestion job.
type ImportTrigger interface {
	TriggerImport(ctx context.Context) error
}

// Importer is the admin re-import action. It allows one trigger per cooldown
// window and always invalidates the layer caches after posting.
type Importer struct {
	backend  ImportTrigger
	layers   *LayerController
	registry *Registry
	metrics  *metrics.Metrics
	cooldown time.Duration
	limiter  *rate.Limiter
	now      func() time.Time

	mu    sync.Mutex
	until time.Time
}

// NewImporter creates an importer with the given cooldown window.
func NewImporter(b ImportTrigger, layers *LayerController, reg *Registry, cooldown time.Duration, m *metrics.Metrics) *Importer {
	if m == nil {
		m = metrics.Nop()
	}
	limit := rate.Inf
	if cooldown > 0 {
		limit = rate.Every(cooldown)
	}
	return &Importer{
		backend:  b,
		layers:   layers,
		registry: reg,
		metrics:  m,
		cooldown: cooldown,
		limiter:  rate.NewLimiter(limit, 1),
		now:      time.Now,
	}
}

// CooldownUntil returns when the trigger becomes available again.
func (im *Importer) CooldownUntil() time.Time {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.until
}

// Trigger posts the import job and clears every category cache, even when
// the post fails. The returned status carries the end of the cooldown and is
// broadcast to every session. During the cooldown nothing is posted and
// ErrCooldown is returned.
func (im *Importer) Trigger(ctx context.Context) (ImportStatus, error) {
	now := im.now()

	im.mu.Lock()
	if !im.limiter.AllowN(now, 1) {
		st := ImportStatus{CooldownUntil: im.until, Message: ErrCooldown.Error()}
		im.mu.Unlock()
		im.metrics.Imports.WithLabelValues("cooldown").Inc()
		return st, ErrCooldown
	}
	im.until = now.Add(im.cooldown)
	until := im.until
	im.mu.Unlock()

	st := ImportStatus{Accepted: true, CooldownUntil: until}
	postErr := im.backend.TriggerImport(ctx)
	if postErr != nil {
		st.Accepted = false
		st.Message = postErr.Error()
		im.metrics.Imports.WithLabelValues("error").Inc()
		zap.L().Error("import trigger failed", zap.Error(postErr))
	} else {
		im.metrics.Imports.WithLabelValues("ok").Inc()
		zap.L().Info("import triggered", zap.Time("cooldown_until", until))
	}

	if err := im.layers.Invalidate(); err != nil {
		zap.L().Error("clearing layer caches after import", zap.Error(err))
	}
	if im.registry != nil {
		im.registry.Broadcast(Event{Kind: EventImport, Data: st})
	}

	if postErr != nil {
		return st, eris.Wrap(postErr, "service: trigger import")
	}
	return st, nil
}
