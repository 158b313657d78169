// Package viewer contains the Datastar handlers behind the map page: the
// per-session event stream and the endpoints the page posts interactions to.
package viewer

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-riskmap/internal/service"
)

// Tag marks viewer operations in the OpenAPI document.
const Tag = "viewer"

type sessionKey struct{}

// SessionFrom returns the session attached by [Sessions].
func SessionFrom(ctx context.Context) (*service.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*service.Session)
	return s, ok
}

// WithSession attaches a session to ctx.
func WithSession(ctx context.Context, s *service.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// Cookies resolves the session cookie to a live session.
type Cookies struct {
	Registry *service.Registry
	Name     string
	Secure   bool
}

// Resolve returns the session named by the cookie header and, when a new
// session had to be created, the cookie to send back.
func (c Cookies) Resolve(cookieHeader string) (*service.Session, *http.Cookie) {
	var id string
	if cookies, err := http.ParseCookie(cookieHeader); err == nil {
		for _, ck := range cookies {
			if ck.Name == c.Name {
				id = ck.Value
			}
		}
	}

	s := c.Registry.GetOrCreate(id)
	if s.ID == id {
		return s, nil
	}
	return s, &http.Cookie{
		Name:     c.Name,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// Sessions is a Huma middleware attaching the browser session to viewer
// operations. Other operations pass through untouched.
func Sessions(c Cookies) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !slices.Contains(op.Tags, Tag) {
			next(ctx)
			return
		}

		s, cookie := c.Resolve(ctx.Header("Cookie"))
		if cookie != nil {
			ctx.AppendHeader("Set-Cookie", cookie.String())
		}
		next(huma.WithContext(ctx, WithSession(ctx.Context(), s)))
	}
}

func mustSession(ctx context.Context) (*service.Session, error) {
	s, ok := SessionFrom(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("no viewer session")
	}
	return s, nil
}
