// Package csrf locates the anti-forgery token a storefront expects on
// mutating requests.
package csrf

import (
	"net/http"
	"net/url"
)

// Source yields the current CSRF token, or "" when none is available.
type Source interface {
	Token() string
}

// Static is a fixed token.
type Static string

// Token implements Source.
func (s Static) Token() string { return string(s) }

// CookieSource reads the token from a cookie stored in a jar for URL.
type CookieSource struct {
	Jar  http.CookieJar
	URL  *url.URL
	Name string
}

// Token implements Source.
func (c CookieSource) Token() string {
	if c.Jar == nil || c.URL == nil {
		return ""
	}
	for _, ck := range c.Jar.Cookies(c.URL) {
		if ck.Name == c.Name {
			if v, err := url.QueryUnescape(ck.Value); err == nil {
				return v
			}
			return ck.Value
		}
	}
	return ""
}

// InputLookup finds the value of a named form input.
type InputLookup interface {
	InputValue(name string) (string, bool)
}

// FieldSource reads the token from a hidden form field of a page.
type FieldSource struct {
	Page InputLookup
	Name string
}

// Token implements Source.
func (f FieldSource) Token() string {
	if f.Page == nil {
		return ""
	}
	v, _ := f.Page.InputValue(f.Name)
	return v
}

// Chain returns the first non-empty token of its sources.
type Chain []Source

// Token implements Source.
func (c Chain) Token() string {
	for _, s := range c {
		if s == nil {
			continue
		}
		if tok := s.Token(); tok != "" {
			return tok
		}
	}
	return ""
}
