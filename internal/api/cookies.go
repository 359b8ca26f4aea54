package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// savedCookie is one persisted cookie. Host is the host that set it; an
// empty Domain marks a host-only cookie.
type savedCookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Host     string     `json:"host,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"http_only,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"` // nil for session cookies
}

func (s savedCookie) key() string {
	domain := s.Domain
	if domain == "" {
		domain = s.Host
	}
	return domain + ";" + s.Path + ";" + s.Name
}

func (s savedCookie) expired(now time.Time) bool {
	return s.Expires != nil && !s.Expires.After(now)
}

// recordingJar keeps the attributes of every cookie it stores, which
// http.CookieJar.Cookies does not return, so they can be written out.
type recordingJar struct {
	http.CookieJar

	mu      sync.Mutex
	entries map[string]savedCookie
	now     func() time.Time
}

func newRecordingJar(jar http.CookieJar) *recordingJar {
	return &recordingJar{CookieJar: jar, entries: make(map[string]savedCookie), now: time.Now}
}

// SetCookies implements http.CookieJar.
func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.CookieJar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	for _, ck := range cookies {
		s := savedCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Host:     u.Host,
			Domain:   strings.TrimPrefix(ck.Domain, "."),
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HttpOnly,
		}
		if s.Path == "" || s.Path[0] != '/' {
			s.Path = defaultCookiePath(u.Path)
		}
		switch {
		case ck.MaxAge < 0:
			delete(j.entries, s.key())
			continue
		case ck.MaxAge > 0:
			exp := now.Add(time.Duration(ck.MaxAge) * time.Second)
			s.Expires = &exp
		case !ck.Expires.IsZero():
			exp := ck.Expires.UTC()
			s.Expires = &exp
		}
		if s.expired(now) {
			delete(j.entries, s.key())
			continue
		}
		j.entries[s.key()] = s
	}
}

// snapshot returns the live entries in a stable order.
func (j *recordingJar) snapshot() []savedCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	out := make([]savedCookie, 0, len(j.entries))
	for _, s := range j.entries {
		if !s.expired(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].key() < out[b].key() })
	return out
}

// defaultCookiePath is the directory of the request path, as browsers
// scope cookies set without a Path attribute.
func defaultCookiePath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

// SaveCookies writes the session cookies as JSON, with their scope and
// expiry, so a later process can resume the same session.
func (c *Client) SaveCookies(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.jar.snapshot()); err != nil {
		return fmt.Errorf("encoding cookies: %w", err)
	}
	return nil
}

// LoadCookies restores cookies written by SaveCookies. Expired entries are
// dropped. Entries without a host are scoped to the storefront root.
func (c *Client) LoadCookies(r io.Reader) error {
	var saved []savedCookie
	if err := json.NewDecoder(r).Decode(&saved); err != nil {
		return fmt.Errorf("decoding cookies: %w", err)
	}
	now := c.jar.now()
	for _, s := range saved {
		if s.expired(now) {
			continue
		}
		u := &url.URL{Scheme: c.base.Scheme, Host: s.Host, Path: s.Path}
		if s.Host == "" {
			u.Host = c.base.Host
		}
		if s.Secure {
			u.Scheme = "https"
		}
		if u.Path == "" {
			u.Path = "/"
		}
		ck := &http.Cookie{
			Name:     s.Name,
			Value:    s.Value,
			Domain:   s.Domain,
			Path:     u.Path,
			Secure:   s.Secure,
			HttpOnly: s.HTTPOnly,
		}
		if s.Expires != nil {
			ck.Expires = *s.Expires
		}
		c.jar.SetCookies(u, []*http.Cookie{ck})
	}
	return nil
}
