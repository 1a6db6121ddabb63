// Package search answers actor search queries against the local index and
// fills the index on a miss when the query names a handle explicitly.
package search

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/syntrixbase/appview/internal/gateway"
	"github.com/syntrixbase/appview/internal/identity"
	"github.com/syntrixbase/appview/internal/metrics"
)

// Filler indexes a repository discovered by search.
type Filler interface {
	Fill(ctx context.Context, did string, mode gateway.FillMode) error
}

// Query is a search request.
type Query struct {
	Term   string `schema:"term" validate:"max=256"`
	Q      string `schema:"q" validate:"max=256"`
	Limit  int    `schema:"limit" validate:"gte=0,lte=100"`
	Cursor string `schema:"cursor"`
}

// Actor is a search hit.
type Actor struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

type Result struct {
	Cursor string  `json:"cursor,omitempty"`
	Actors []Actor `json:"actors"`
}

type Service struct {
	cfg       Config
	store     Store
	resolver  identity.Resolver
	filler    Filler
	avatarURL func(did, cid string) string
	logger    *slog.Logger
}

// NewService creates the search service. avatarURL may be nil, in which
// case hits carry no avatar.
func NewService(cfg Config, store Store, resolver identity.Resolver, filler Filler, avatarURL func(did, cid string) string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		resolver:  resolver,
		filler:    filler,
		avatarURL: avatarURL,
		logger:    logger.With("component", "search"),
	}
}

// CleanTerm trims and lowercases a raw search term.
func CleanTerm(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// handleRef reports the handle named by a full-search term: '@' followed by
// a string without whitespace.
func handleRef(term string) (string, bool) {
	h, ok := strings.CutPrefix(term, "@")
	if !ok || h == "" || strings.IndexFunc(h, unicode.IsSpace) >= 0 {
		return "", false
	}
	return h, true
}

// suffixRef reports the handle named by a typeahead term ending in suffix.
func suffixRef(term, suffix string) (string, bool) {
	if len(term) <= 1 || !strings.HasSuffix(term, suffix) || strings.IndexFunc(term, unicode.IsSpace) >= 0 {
		return "", false
	}
	h := strings.TrimPrefix(term, "@")
	if h == suffix || h == strings.TrimPrefix(suffix, ".") {
		return "", false
	}
	return h, true
}

// SearchActors runs a paginated search. A term of the form "@handle" whose
// handle is not indexed triggers a synchronous cache fill first.
func (s *Service) SearchActors(ctx context.Context, q Query) (*Result, error) {
	term := CleanTerm(q.Term)
	if term == "" {
		term = CleanTerm(q.Q)
	}
	if term == "" {
		return &Result{Actors: []Actor{}}, nil
	}
	if ref, ok := handleRef(term); ok {
		s.fillMiss(ctx, ref)
	}

	rows, err := s.store.Search(ctx, strings.TrimPrefix(term, "@"), s.limit(q.Limit), q.Cursor)
	if err != nil {
		return nil, err
	}
	res := &Result{Actors: s.actors(rows)}
	if len(rows) == s.limit(q.Limit) {
		res.Cursor = rows[len(rows)-1].Handle
	}
	return res, nil
}

// SearchActorsTypeahead returns the first page of matches. A term ending in
// the configured handle suffix triggers a cache fill when not indexed.
func (s *Service) SearchActorsTypeahead(ctx context.Context, q Query) (*Result, error) {
	term := CleanTerm(q.Term)
	if term == "" {
		term = CleanTerm(q.Q)
	}
	if term == "" {
		return &Result{Actors: []Actor{}}, nil
	}
	if ref, ok := suffixRef(term, s.cfg.HandleSuffix); ok {
		s.fillMiss(ctx, ref)
	}

	rows, err := s.store.Search(ctx, strings.TrimPrefix(term, "@"), s.limit(q.Limit), "")
	if err != nil {
		return nil, err
	}
	return &Result{Actors: s.actors(rows)}, nil
}

// ResolveHandle returns the DID of handle, preferring the index over the
// network. It returns "" when the handle cannot be resolved.
func (s *Service) ResolveHandle(ctx context.Context, handle string) (string, error) {
	handle = identity.NormalizeHandle(handle)
	did, err := s.store.LookupHandle(ctx, handle)
	if err != nil {
		s.logger.Warn("Local handle lookup failed", "handle", handle, "error", err)
	}
	if did != "" {
		return did, nil
	}
	return s.resolver.ResolveHandle(ctx, handle)
}

// fillMiss indexes the repository behind handle when no local actor holds
// it. Every failure is logged and swallowed; search proceeds either way.
func (s *Service) fillMiss(ctx context.Context, handle string) {
	did, err := s.store.LookupHandle(ctx, handle)
	if err != nil {
		s.logger.Warn("Local handle lookup failed", "handle", handle, "error", err)
		return
	}
	if did != "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FillTimeout)
	defer cancel()

	did, err = s.resolver.ResolveHandle(ctx, handle)
	if err != nil || did == "" {
		metrics.ObserveCacheFill(s.cfg.FillMode, false)
		s.logger.Debug("Handle not resolvable, skipping fill", "handle", handle, "error", err)
		return
	}
	if err := s.filler.Fill(ctx, did, gateway.FillMode(s.cfg.FillMode)); err != nil {
		metrics.ObserveCacheFill(s.cfg.FillMode, false)
		s.logger.Warn("Cache fill failed", "handle", handle, "did", did, "error", err)
		return
	}
	metrics.ObserveCacheFill(s.cfg.FillMode, true)
	s.logger.Info("Filled index from search", "handle", handle, "did", did, "mode", s.cfg.FillMode)
}

func (s *Service) limit(n int) int {
	if n <= 0 {
		return s.cfg.DefaultLimit
	}
	if n > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return n
}

func (s *Service) actors(rows []Row) []Actor {
	out := make([]Actor, 0, len(rows))
	for _, r := range rows {
		a := Actor{DID: r.DID, Handle: r.Handle, DisplayName: r.DisplayName, Description: r.Description}
		if r.AvatarCID != "" && s.avatarURL != nil {
			a.Avatar = s.avatarURL(r.DID, r.AvatarCID)
		}
		out = append(out, a)
	}
	return out
}
