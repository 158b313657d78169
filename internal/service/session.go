package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/heatmap"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
)

// Session is the interaction state of one browser: at most one marker and
// popup, per-layer visibility and the current zoom. Every change is published
// on the session's bus.
type Session struct {
	ID  string
	Bus *EventBus

	metrics *metrics.Metrics

	mu       sync.Mutex
	token    uint64
	cancel   context.CancelFunc
	phase    Phase
	marker   *geo.Coordinate
	popup    *Popup
	zoom     float64
	visible  map[backend.Category]bool
	lastSeen time.Time
}

// Ticket identifies one lookup. Ctx is cancelled once a newer interaction
// starts.
type Ticket struct {
	Token uint64
	Ctx   context.Context
}

// Snapshot is a copy of the session state, sent to a viewer when it connects.
type Snapshot struct {
	Phase   Phase
	Marker  *geo.Coordinate
	Popup   *Popup
	Zoom    float64
	Heatmap heatmap.Params
	Visible []backend.Category
}

func newSession(id string, zoom float64, m *metrics.Metrics, now time.Time) *Session {
	return &Session{
		ID:       id,
		Bus:      NewEventBus(),
		metrics:  m,
		zoom:     zoom,
		visible:  make(map[backend.Category]bool),
		lastSeen: now,
	}
}

// Begin starts a new interaction. The previous lookup is cancelled, marker
// and popup are cleared, and when at is non-nil the marker is placed there
// with a loading popup.
func (s *Session) Begin(parent context.Context, at *geo.Coordinate) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.token++
	s.phase = PhasePending
	s.marker, s.popup = nil, nil

	if at != nil {
		c := *at
		s.marker = &c
		s.popup = &Popup{Kind: PopupLoading, Coord: c}
	}
	s.publishMarkerLocked()
	s.publishPopupLocked(false)

	return Ticket{Token: s.token, Ctx: ctx}
}

// Resolve applies a successful lookup. It reports false and changes nothing
// when a newer interaction has started.
func (s *Session) Resolve(token uint64, o Outcome) bool {
	return s.finish(token, PhaseResolved, o)
}

// Fail applies a failed lookup. The marker stays where it is.
func (s *Session) Fail(token uint64, o Outcome) bool {
	return s.finish(token, PhaseFailed, o)
}

func (s *Session) finish(token uint64, phase Phase, o Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token || s.phase != PhasePending {
		s.metrics.StaleResults.WithLabelValues("interaction").Inc()
		zap.L().Debug("discarding stale lookup result",
			zap.String("session", s.ID), zap.Uint64("token", token), zap.Uint64("latest", s.token))
		return false
	}

	s.phase = phase
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if o.Marker != nil {
		c := *o.Marker
		s.marker = &c
		s.publishMarkerLocked()
	}
	if o.View != nil {
		s.zoom = o.View.Zoom
		s.Bus.Publish(Event{Kind: EventView, Data: *o.View})
		s.Bus.Publish(Event{Kind: EventHeatmap, Data: heatmap.ParamsForZoom(s.zoom)})
	}
	s.popup = nil
	if o.Popup != nil {
		p := *o.Popup
		s.popup = &p
	}
	s.publishPopupLocked(o.View != nil)
	if o.Alert != "" {
		s.Bus.Publish(Event{Kind: EventAlert, Data: Alert{Message: o.Alert}})
	}
	return true
}

// Close hides the popup and removes the marker. Any lookup still in flight
// is cancelled and its result discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.token++
	s.phase = PhaseIdle
	s.marker, s.popup = nil, nil
	s.publishMarkerLocked()
	s.publishPopupLocked(false)
}

// Alert shows a message without touching the marker or popup.
func (s *Session) Alert(msg string) {
	s.Bus.Publish(Event{Kind: EventAlert, Data: Alert{Message: msg}})
}

// SetZoom records the current zoom and publishes fresh heatmap parameters.
func (s *Session) SetZoom(zoom float64) heatmap.Params {
	s.mu.Lock()
	s.zoom = zoom
	s.mu.Unlock()

	p := heatmap.ParamsForZoom(zoom)
	s.Bus.Publish(Event{Kind: EventHeatmap, Data: p})
	return p
}

// Phase returns the lifecycle state.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Visible reports whether a category's layer is shown.
func (s *Session) Visible(cat backend.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible[cat]
}

func (s *Session) setVisible(layer LayerConfig, on bool) {
	s.mu.Lock()
	s.visible[layer.Category] = on
	s.mu.Unlock()
	s.Bus.Publish(Event{Kind: EventLayer, Data: LayerState{Layer: layer, Visible: on}})
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Phase: s.phase, Zoom: s.zoom, Heatmap: heatmap.ParamsForZoom(s.zoom)}
	if s.marker != nil {
		c := *s.marker
		snap.Marker = &c
	}
	if s.popup != nil {
		p := *s.popup
		snap.Popup = &p
	}
	for _, cat := range backend.Categories {
		if s.visible[cat] {
			snap.Visible = append(snap.Visible, cat)
		}
	}
	return snap
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) shutdown() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.token++
	s.mu.Unlock()
	s.Bus.Close()
}

func (s *Session) publishMarkerLocked() {
	st := MarkerState{}
	if s.marker != nil {
		st = MarkerState{Visible: true, At: *s.marker}
	}
	s.Bus.Publish(Event{Kind: EventMarker, Data: st})
}

func (s *Session) publishPopupLocked(afterView bool) {
	st := PopupState{}
	if s.popup != nil {
		st = PopupState{Visible: true, Popup: *s.popup, AfterView: afterView}
		if s.marker != nil {
			st.Anchor = *s.marker
		} else {
			st.Anchor = s.popup.Coord
		}
	}
	s.Bus.Publish(Event{Kind: EventPopup, Data: st})
}

// Registry owns every live session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	zoom     float64
	onEvict  func(id string)
	metrics  *metrics.Metrics
	now      func() time.Time
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// IdleTTL evicts sessions with no open stream that were not seen for this long.
	IdleTTL time.Duration
	// InitialZoom seeds the heatmap parameters of new sessions.
	InitialZoom float64
	// OnEvict runs after a session is removed, e.g. to drop its cached features.
	OnEvict func(id string)
	Metrics *metrics.Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      opts.IdleTTL,
		zoom:     opts.InitialZoom,
		onEvict:  opts.OnEvict,
		metrics:  m,
		now:      time.Now,
	}
}

// Get returns a live session and marks it as seen.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating a new one with a fresh
// ID when id is empty or unknown.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.touch(r.now())
		return s
	}

	s := newSession(uuid.NewString(), r.zoom, r.metrics, r.now())
	r.sessions[s.ID] = s
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	zap.L().Debug("session created", zap.String("session", s.ID))
	return s
}

// Each calls fn for every live session.
func (r *Registry) Each(fn func(*Session)) {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	for _, s := range list {
		fn(s)
	}
}

// Broadcast publishes ev on every session's bus.
func (r *Registry) Broadcast(ev Event) {
	r.Each(func(s *Session) { s.Bus.Publish(ev) })
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep evicts idle sessions and returns how many were removed. A session
// with an open event stream is never idle.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.Bus.Subscribers() == 0 && s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range evicted {
		s.shutdown()
		if r.onEvict != nil {
			r.onEvict(s.ID)
		}
		zap.L().Debug("session evicted", zap.String("session", s.ID))
	}
	return len(evicted)
}

// Run sweeps idle sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				zap.L().Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}
