package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultReloadChannel is the Redis channel that triggers cluster-wide
// reloads.
const DefaultReloadChannel = "gateway.routes.reload"

// defaultLoadTimeout bounds one shared load, independent of any caller.
const defaultLoadTimeout = 30 * time.Second

// GroupChecker reports whether a security group names a known role slug.
type GroupChecker interface {
	HasSlug(slug string) bool
}

// Reloader rebuilds the table from a source and swaps it in.
type Reloader struct {
	table   *Table
	source  Source
	groups  func() GroupChecker
	logger  *slog.Logger
	timeout time.Duration
	flights singleflight.Group
}

// NewReloader constructs a Reloader. groups may be nil to skip security
// group validation.
func NewReloader(table *Table, source Source, groups func() GroupChecker, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{table: table, source: source, groups: groups, logger: logger, timeout: defaultLoadTimeout}
}

// Reload loads, validates and installs a new snapshot. Concurrent callers
// share one load, which outlives a caller that gives up waiting. Invalid
// routes are dropped and logged; the rest are served.
func (r *Reloader) Reload(ctx context.Context) (*Snapshot, error) {
	ch := r.flights.DoChan("reload", func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.reload(loadCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (r *Reloader) reload(ctx context.Context) (*Snapshot, error) {
	if r.source == nil {
		return nil, errors.New("routes: source not configured")
	}
	loaded, err := r.source.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var checker GroupChecker
	if r.groups != nil {
		checker = r.groups()
	}
	valid := make([]Route, 0, len(loaded))
	for _, route := range loaded {
		if err := route.Validate(); err != nil {
			r.logger.Error("drop route", slog.String("service", route.Service), slog.Any("error", err))
			continue
		}
		if route.SecurityGroup != "" && checker != nil && !checker.HasSlug(route.SecurityGroup) {
			r.logger.Error("drop route", slog.String("service", route.Service),
				slog.String("security_group", route.SecurityGroup),
				slog.Any("error", fmt.Errorf("%w: unknown security group", ErrInvalidRoute)))
			continue
		}
		valid = append(valid, route)
	}
	snapshot, err := NewSnapshot(valid)
	if err != nil {
		return nil, err
	}
	r.table.Swap(snapshot)
	r.logger.Info("routes reloaded", slog.Int("routes", len(valid)), slog.Uint64("version", snapshot.Version()))
	return snapshot, nil
}

// Run reloads on every tick until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context, interval time.Duration) {
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
			if _, err := r.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("periodic route reload", slog.Any("error", err))
			}
		}
	}
}

// Listen subscribes to channel and reloads on every message. It returns once
// the subscription is established.
func (r *Reloader) Listen(ctx context.Context, client *redis.Client, channel string) error {
	if client == nil {
		return nil
	}
	if channel == "" {
		channel = DefaultReloadChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("routes: subscribe %s: %w", channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				if _, err := r.Reload(ctx); err != nil {
					r.logger.Warn("route reload on notify", slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}

// Notify asks every gateway instance listening on channel to reload.
func Notify(ctx context.Context, client *redis.Client, channel string) error {
	if client == nil {
		return nil
	}
	if channel == "" {
		channel = DefaultReloadChannel
	}
	return client.Publish(ctx, channel, time.Now().UTC().Format(time.RFC3339Nano)).Err()
}
