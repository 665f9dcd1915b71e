package middleware

import (
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/database"
	"github.com/loanguard/loanguard/internal/logger"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb *database.Redis
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance. rdb may be nil; rate limiting then
// falls back to the in-process limiter.
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log,
		cfg: cfg,
	}
}
