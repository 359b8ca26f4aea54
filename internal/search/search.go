// Package search fetches product suggestions for a search box.
package search

import (
	"context"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/schema"
)

// MinQueryLength is the shortest trimmed query that is sent to the server.
const MinQueryLength = 2

const resultsPath = "/productos/"

// Service is the remote suggestions endpoint.
type Service interface {
	Suggestions(ctx context.Context, query string) ([]schema.Suggestion, error)
}

// Suggester looks up suggestions for queries typed into the search box.
type Suggester struct {
	svc Service
	log *zap.Logger
}

// New returns a Suggester backed by svc.
func New(svc Service, log *zap.Logger) *Suggester {
	return &Suggester{svc: svc, log: logging.OrNop(log)}
}

// Suggest returns suggestions for query. Queries shorter than
// MinQueryLength after trimming yield nil without a request.
func (s *Suggester) Suggest(ctx context.Context, query string) ([]schema.Suggestion, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < MinQueryLength {
		return nil, nil
	}
	list, err := s.svc.Suggestions(ctx, query)
	if err != nil {
		s.log.Warn("search suggestions failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	s.log.Debug("search suggestions", zap.String("query", query), zap.Int("count", len(list)))
	return list, nil
}

// ResultsURL is the link to the full result list for query.
func ResultsURL(query string) string {
	return resultsPath + "?" + url.Values{"search": {strings.TrimSpace(query)}}.Encode()
}
