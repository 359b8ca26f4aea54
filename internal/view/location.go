package view

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/cartsync/internal/page"
	"github.com/dshills/cartsync/internal/schema"
)

// PageFetcher retrieves a page with the session's cookies.
type PageFetcher interface {
	FetchPage(ctx context.Context, path string) ([]byte, error)
}

// Location performs reloads and navigations on behalf of a headless page.
type Location struct {
	doc   *page.Document
	fetch PageFetcher
	path  string

	mu       sync.Mutex
	reloaded bool
	target   string
}

// NewLocation returns a Location that reloads path into doc.
func NewLocation(doc *page.Document, fetch PageFetcher, path string) *Location {
	return &Location{doc: doc, fetch: fetch, path: path}
}

// Reload refetches the page and replaces the document.
func (l *Location) Reload(ctx context.Context) error {
	data, err := l.fetch.FetchPage(ctx, l.path)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", l.path, err)
	}
	if err := l.doc.Replace(data); err != nil {
		return fmt.Errorf("reloading %s: %w", l.path, err)
	}
	l.mu.Lock()
	l.reloaded = true
	l.mu.Unlock()
	return nil
}

// Navigate records target as the page the browser would move to.
func (l *Location) Navigate(target string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target = target
}

// Target returns the last navigation target, or "".
func (l *Location) Target() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.target
}

// Navigation summarizes reloads and redirects, or nil when neither happened.
func (l *Location) Navigation() *schema.Navigation {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.reloaded && l.target == "" {
		return nil
	}
	return &schema.Navigation{Target: l.target, Reloaded: l.reloaded}
}
