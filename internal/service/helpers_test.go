package service

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/metrics"
)

type fakeGeocoder struct {
	mu       sync.Mutex
	reverse  func(ctx context.Context, c geo.Coordinate) ([]backend.Address, error)
	search   func(ctx context.Context, q string) (*backend.SearchResult, error)
	searches int
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, c geo.Coordinate) ([]backend.Address, error) {
	return f.reverse(ctx, c)
}

func (f *fakeGeocoder) Search(ctx context.Context, q string) (*backend.SearchResult, error) {
	f.mu.Lock()
	f.searches++
	f.mu.Unlock()
	return f.search(ctx, q)
}

type fakeSource struct {
	calls atomic.Int32
	gate  chan struct{}
	fn    func(cat backend.Category) ([]backend.RiskPoint, error)
}

func (f *fakeSource) RiskPoints(ctx context.Context, cat backend.Category) ([]backend.RiskPoint, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(cat)
	}
	return []backend.RiskPoint{
		{Lon: 127.1, Lat: 37.5, Weight: 1.5, Category: cat},
		{Lon: 127.2, Lat: 37.6, Weight: 6, Category: cat},
	}, nil
}

type fakeImport struct {
	calls atomic.Int32
	err   error
}

func (f *fakeImport) TriggerImport(context.Context) error {
	f.calls.Add(1)
	return f.err
}

func newTestRegistry() *Registry {
	return NewRegistry(RegistryOptions{IdleTTL: time.Hour, InitialZoom: 14, Metrics: metrics.Nop()})
}

// drain collects the events published so far, waiting briefly for stragglers.
func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func ofKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func lastPopup(t *testing.T, events []Event) PopupState {
	t.Helper()
	popups := ofKind(events, EventPopup)
	require.NotEmpty(t, popups)
	return popups[len(popups)-1].Data.(PopupState)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)
