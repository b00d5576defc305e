package routes

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Health is the probe outcome for one route.
type Health struct {
	Service   string    `json:"service"`
	Healthy   bool      `json:"healthy"`
	Status    int       `json:"status,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober checks downstream health endpoints.
type Prober struct {
	client      *http.Client
	concurrency int
}

// NewProber constructs a Prober. A nil client gets a 5s timeout client.
func NewProber(client *http.Client, concurrency int) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Prober{client: client, concurrency: concurrency}
}

// Probe checks every route of the snapshot that configures a health path.
// Results keep the snapshot's service order.
func (p *Prober) Probe(ctx context.Context, snapshot *Snapshot) []Health {
	var checked []Route
	for _, r := range snapshot.Routes() {
		if r.Health.Path != "" {
			checked = append(checked, r)
		}
	}
	results := make([]Health, len(checked))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, r := range checked {
		g.Go(func() error {
			results[i] = p.probe(gctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Prober) probe(ctx context.Context, r Route) Health {
	h := Health{Service: r.Service, CheckedAt: time.Now().UTC()}
	target, err := r.Target(r.Health.Path)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	resp, err := p.client.Do(req)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	h.Status = resp.StatusCode
	h.Healthy = r.Health.Accepts(resp.StatusCode)
	return h
}
