// Package ranking picks the best search candidate for a free-text query.
//
// The backend returns several place/address matches and the viewer shows exactly
// one of them. Titles are compared to the query with whitespace removed; exact
// matches beat substring matches, and shorter titles beat longer ones.
package ranking

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

const (
	exactScore     = 100
	substringScore = 50
	lengthBase     = 100
)

var (
	// ErrEmptyQuery is returned when the query is empty or whitespace only.
	ErrEmptyQuery = eris.New("search query is empty")
	// ErrNoCandidates is returned when there is nothing to rank.
	ErrNoCandidates = eris.New("no candidates to rank")
)

var markup = regexp.MustCompile(`<[^>]*>?`)

// Candidate is a single search match as returned by the backend.
type Candidate struct {
	Title   string  `json:"title" doc:"Match title, may contain HTML highlight markup" example:"<b>서울</b>시청"`
	Address Address `json:"address" doc:"Road and parcel address of the match"`
	Point   Point   `json:"point" doc:"Match location"`
}

// Address holds the road (street) and parcel (lot) forms of an address.
type Address struct {
	Road   string `json:"road,omitempty" doc:"Road-name address"`
	Parcel string `json:"parcel,omitempty" doc:"Parcel (lot number) address"`
}

// Display returns the road address, falling back to the parcel address.
func (a Address) Display() string {
	if a.Road != "" {
		return a.Road
	}
	return a.Parcel
}

// Point is a raw candidate location. The backend sends x/y as strings.
type Point struct {
	X string `json:"x" doc:"Longitude or projected x"`
	Y string `json:"y" doc:"Latitude or projected y"`
}

// Normalize removes all whitespace from s after NFC normalization.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// StripMarkup removes HTML tags from a title and trims it, keeping inner spaces
// for display.
func StripMarkup(title string) string {
	return strings.TrimSpace(markup.ReplaceAllString(title, ""))
}

// CleanTitle strips HTML markup from a title, trims it and removes whitespace.
func CleanTitle(title string) string {
	return Normalize(StripMarkup(title))
}

// Score rates a candidate title against an already normalized query.
// The length term is not clamped and goes negative past 100 characters.
func Score(cleanQuery, title string) int {
	t := CleanTitle(title)

	score := 0
	switch {
	case t == cleanQuery:
		score += exactScore
	case strings.Contains(t, cleanQuery) || strings.Contains(cleanQuery, t):
		score += substringScore
	}
	return score + lengthBase - utf8.RuneCountInString(t)
}

// Best returns the highest scoring candidate. The first candidate wins ties.
func Best(query string, candidates []Candidate) (Candidate, error) {
	idx, err := BestIndex(query, titles(candidates))
	if err != nil {
		return Candidate{}, err
	}
	return candidates[idx], nil
}

// BestIndex ranks bare titles and returns the index of the winner.
func BestIndex(query string, titles []string) (int, error) {
	clean := Normalize(query)
	if clean == "" {
		return 0, ErrEmptyQuery
	}
	if len(titles) == 0 {
		return 0, ErrNoCandidates
	}

	best, bestScore := 0, Score(clean, titles[0])
	for i := 1; i < len(titles); i++ {
		if s := Score(clean, titles[i]); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, nil
}

func titles(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Title
	}
	return out
}
