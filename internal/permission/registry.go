package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// RoleSource loads every guest role.
type RoleSource interface {
	LoadRoles(ctx context.Context) ([]Role, error)
}

// Registry holds the current Catalog. Readers never lock; Reload builds a new
// catalog and swaps the pointer.
type Registry struct {
	source  RoleSource
	logger  *slog.Logger
	current atomic.Pointer[Catalog]
}

// NewRegistry constructs a Registry starting from an empty catalog.
func NewRegistry(source RoleSource, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{source: source, logger: logger}
	r.current.Store(NewCatalog(nil))
	return r
}

// Catalog returns the current snapshot.
func (r *Registry) Catalog() *Catalog {
	return r.current.Load()
}

// Replace swaps in a prepared catalog.
func (r *Registry) Replace(c *Catalog) {
	if c == nil {
		c = NewCatalog(nil)
	}
	r.current.Store(c)
}

// Reload rebuilds the catalog from the source. The previous catalog stays in
// place when loading fails.
func (r *Registry) Reload(ctx context.Context) error {
	if r.source == nil {
		return errors.New("permission: role source not configured")
	}
	roles, err := r.source.LoadRoles(ctx)
	if err != nil {
		return err
	}
	r.Replace(NewCatalog(roles))
	r.logger.Debug("role catalog reloaded", slog.Int("roles", len(roles)))
	return nil
}

// Run reloads on every tick until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil {
				r.logger.Warn("reload role catalog", slog.Any("error", err))
			}
		}
	}
}
