// Package admin exposes the saved categories and block annotations over a
// local JSON API and as MCP tools. It is the management surface for the
// data the page integration writes: listing, searching, editing, deleting,
// statistics, export and import.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/blockreasons/kit"
	"github.com/hazyhaar/blockreasons/store"
)

// Store is the record store as seen by the admin surface.
type Store interface {
	Categories(ctx context.Context) ([]store.Category, error)
	AddCategory(ctx context.Context, label string) (store.Category, error)
	RenameCategory(ctx context.Context, id, label string) (store.Category, error)
	DeleteCategory(ctx context.Context, id string) error
	MoveCategory(ctx context.Context, id string, index int) ([]store.Category, error)
	ResetCategories(ctx context.Context) ([]store.Category, error)
	Labels(ctx context.Context) (map[string]string, error)

	Block(ctx context.Context, username string) (store.BlockRecord, error)
	List(ctx context.Context, query string) ([]store.BlockRecord, error)
	UpdateAnnotation(ctx context.Context, username string, categories []string, reason string) (store.BlockRecord, error)
	DeleteBlock(ctx context.Context, username string) error
	Stats(ctx context.Context) (store.Stats, error)
	Export(ctx context.Context) (store.Dump, error)
	Import(ctx context.Context, data []byte) error
}

// ErrUnknownCategory is returned when an edit names a category id that does
// not exist.
var ErrUnknownCategory = errors.New("admin: unknown category")

// Service serves the admin API.
type Service struct {
	store      Store
	logger     *slog.Logger
	listenAddr string

	lookup     kit.Endpoint
	search     kit.Endpoint
	stats      kit.Endpoint
	categories kit.Endpoint
}

// Option configures a Service.
type Option func(*Service)

// WithListenAddr names the address the admin listener binds, so requests
// addressed to it by name pass the Host check.
func WithListenAddr(addr string) Option {
	return func(s *Service) { s.listenAddr = addr }
}

// New creates a Service over st.
func New(st Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: st, logger: logger}
	for _, o := range opts {
		o(s)
	}
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Recovery(logger), kit.Logging(logger, name))(e)
	}
	s.lookup = wrap("lookup", s.lookupEndpoint)
	s.search = wrap("search", s.searchEndpoint)
	s.stats = wrap("stats", s.statsEndpoint)
	s.categories = wrap("categories", s.categoriesEndpoint)
	return s
}

// Handler returns the full HTTP handler with the middleware stack applied.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range DefaultStack(s.logger, s.listenAddr) {
		r.Use(mw)
	}
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP mounts the admin routes on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", s.handleHealth)

	r.Route("/api/categories", func(r chi.Router) {
		r.Get("/", s.handleListCategories)
		r.Post("/", s.handleAddCategory)
		r.Post("/reset", s.handleResetCategories)
		r.Put("/{id}", s.handleRenameCategory)
		r.Delete("/{id}", s.handleDeleteCategory)
		r.Post("/{id}/move", s.handleMoveCategory)
	})

	r.Route("/api/blocks", func(r chi.Router) {
		r.Get("/", s.handleListBlocks)
		r.Get("/{username}", s.handleGetBlock)
		r.Patch("/{username}", s.handleUpdateBlock)
		r.Delete("/{username}", s.handleDeleteBlock)
	})

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/export", s.handleExport)
	r.Post("/api/import", s.handleImport)
}
