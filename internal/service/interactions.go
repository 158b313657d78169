package service

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/backend"
	"github.com/joeblew999/plat-riskmap/internal/geo"
	"github.com/joeblew999/plat-riskmap/internal/ranking"
)

// User-facing messages.
const (
	LabelRoad         = "도로명 주소"
	LabelParcel       = "지번 주소"
	LabelSearchResult = "검색 결과"

	MsgAddressNotFound = "주소 정보를 찾을 수 없는 지역입니다."
	MsgLookupFailed    = "서버 통신에 실패했습니다."
	MsgEmptyQuery      = "검색어를 입력하세요."
	MsgSearchNotFound  = "검색 결과를 찾을 수 없습니다.\n정확한 주소나 장소명을 입력해 보세요."
	MsgSearchFailed    = "검색 도중 서버 오류가 발생했습니다."
)

// Geocoder resolves coordinates and free-text queries.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c geo.Coordinate) ([]backend.Address, error)
	Search(ctx context.Context, query string) (*backend.SearchResult, error)
}

// Interactions drives the click and search lookups of a session.
type Interactions struct {
	geocoder   Geocoder
	searchZoom float64
	animation  time.Duration
}

// NewInteractions creates the click/search controller. Search results are
// shown at searchZoom after an animation of the given duration.
func NewInteractions(g Geocoder, searchZoom float64, animation time.Duration) *Interactions {
	return &Interactions{geocoder: g, searchZoom: searchZoom, animation: animation}
}

// Click places the marker at c and shows the address found there. It
// returns once the lookup has finished or been superseded.
func (i *Interactions) Click(ctx context.Context, s *Session, c geo.Coordinate) error {
	if err := geo.Validate(c); err != nil {
		return err
	}

	t := s.Begin(ctx, &c)
	addrs, err := i.geocoder.ReverseGeocode(t.Ctx, c)
	if err == nil && len(addrs) == 0 {
		err = backend.ErrNotFound
	}

	switch {
	case err == nil:
		a := addrs[0]
		label := LabelRoad
		if a.IsParcel() {
			label = LabelParcel
		}
		s.Resolve(t.Token, Outcome{Popup: &Popup{Kind: PopupAddress, Label: label, Text: a.Text, Coord: c}})
		return nil

	case errors.Is(err, backend.ErrNotFound):
		s.Resolve(t.Token, Outcome{Popup: &Popup{Kind: PopupNotFound, Message: MsgAddressNotFound, Coord: c}})
		return nil

	default:
		if !s.Fail(t.Token, Outcome{Popup: &Popup{Kind: PopupError, Message: failureMessage(err, MsgLookupFailed), Coord: c}}) {
			return nil
		}
		zap.L().Warn("reverse geocoding failed", zap.String("session", s.ID), zap.Error(err))
		return eris.Wrap(err, "service: reverse geocode")
	}
}

// Search ranks the backend's candidates for query, moves the marker to the
// best one and animates the view to it. An empty query only raises an alert.
func (i *Interactions) Search(ctx context.Context, s *Session, query string) error {
	if ranking.Normalize(query) == "" {
		s.Alert(MsgEmptyQuery)
		return ranking.ErrEmptyQuery
	}

	t := s.Begin(ctx, nil)
	res, err := i.geocoder.Search(t.Ctx, query)
	if errors.Is(err, backend.ErrNotFound) {
		s.Fail(t.Token, Outcome{Alert: MsgSearchNotFound})
		return nil
	}
	if err != nil {
		if s.Fail(t.Token, Outcome{Alert: MsgSearchFailed}) {
			zap.L().Warn("search failed", zap.String("session", s.ID), zap.String("query", query), zap.Error(err))
			return eris.Wrap(err, "service: search")
		}
		return nil
	}

	best, err := ranking.Best(query, res.Items)
	if err != nil {
		s.Fail(t.Token, Outcome{Alert: MsgSearchNotFound})
		return nil
	}

	c, err := geo.ParsePoint(best.Point.X, best.Point.Y)
	if err != nil {
		if s.Fail(t.Token, Outcome{Alert: MsgSearchFailed}) {
			zap.L().Warn("search result has no usable point", zap.String("title", best.Title), zap.Error(err))
			return err
		}
		return nil
	}

	s.Resolve(t.Token, Outcome{
		Marker: &c,
		View:   &View{Center: c, Zoom: i.searchZoom, Duration: i.animation},
		Popup: &Popup{
			Kind:  PopupSearch,
			Label: LabelSearchResult,
			Title: ranking.StripMarkup(best.Title),
			Text:  best.Address.Display(),
			Coord: c,
		},
	})
	return nil
}

// failureMessage surfaces a backend-reported message when there is one.
func failureMessage(err error, fallback string) string {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fallback + " (" + apiErr.Message + ")"
	}
	return fallback
}
