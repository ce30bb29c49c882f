package http

import (
	"net/http"

	"github.com/datagen/datagen/internal/exports"
	"github.com/datagen/datagen/internal/observability"
	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/internal/validation"
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Validator   *validation.Validator
	Synthesizer stream.Synthesizer
	Session     stream.Options
	WriteBuffer int
	Stats       *observability.GenerationStats

	// Exports may be nil when exports are disabled
	Exports *exports.Manager

	// Middleware wraps every route ahead of DefaultMiddleware, e.g. shutdown tracking
	Middleware []func(http.Handler) http.Handler

	Version      string
	ShuttingDown func() bool
}

// NewRouter builds the API mux.
func NewRouter(cfg RouterConfig) http.Handler {
	chain := make([]func(http.Handler) http.Handler, 0, len(cfg.Middleware)+1)
	chain = append(chain, cfg.Middleware...)
	middleware := ChainMiddleware(append(chain, DefaultMiddleware())...)

	mux := http.NewServeMux()
	mux.Handle("/v1/generate", middleware(NewGenerateHandler(cfg.Validator, cfg.Synthesizer, cfg.Session, cfg.WriteBuffer)))
	NewExportsHandler(cfg.Validator, cfg.Exports).Register(mux, middleware)
	if cfg.Stats != nil {
		mux.Handle("/v1/stats", middleware(NewStatsHandler(cfg.Stats)))
	}
	mux.HandleFunc("/health", HealthHandler("datagen", cfg.Version, cfg.ShuttingDown))
	return mux
}
