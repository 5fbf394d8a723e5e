package proxy

import (
	"net/http"
	"time"
)

// StickyConfig carries the sticky-session cookie knobs.
type StickyConfig struct {
	Enabled    bool
	CookieName string
	Path       string
	MaxAge     time.Duration
	HTTPOnly   bool
	Secure     bool
}

func (c StickyConfig) withDefaults() StickyConfig {
	if c.CookieName == "" {
		c.CookieName = "lb_sticky_session"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.MaxAge <= 0 {
		c.MaxAge = time.Hour
	}
	return c
}

// extractStickyID reads the configured cookie's value out of the
// request, returning "" when sticky sessions are disabled or the cookie
// is absent.
func (c StickyConfig) extractStickyID(r *http.Request) string {
	if !c.Enabled {
		return ""
	}
	cookie, err := r.Cookie(c.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// setStickyCookie writes the sticky cookie with the chosen backend's id
// and the configured cookie attributes.
func (c StickyConfig) setStickyCookie(w http.ResponseWriter, backendID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.CookieName,
		Value:    backendID,
		Path:     c.Path,
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	})
}
