package admin

import (
	"context"
	"fmt"
	"strings"
)

type lookupRequest struct {
	Username string `json:"username"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type emptyRequest struct{}

func (s *Service) lookupEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*lookupRequest)
	name := strings.TrimSpace(r.Username)
	if name == "" {
		return nil, fmt.Errorf("admin: username required")
	}
	return s.store.Block(ctx, name)
}

func (s *Service) searchEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*searchRequest)
	recs, err := s.store.List(ctx, r.Query)
	if err != nil {
		return nil, err
	}
	if r.Limit > 0 && len(recs) > r.Limit {
		recs = recs[:r.Limit]
	}
	return recs, nil
}

func (s *Service) statsEndpoint(ctx context.Context, _ any) (any, error) {
	return s.store.Stats(ctx)
}

func (s *Service) categoriesEndpoint(ctx context.Context, _ any) (any, error) {
	return s.store.Categories(ctx)
}
