package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
)

// RoutesCLI validates route definitions before they are published.
type RoutesCLI struct{}

// NewRoutesCLI constructs a new helper instance.
func NewRoutesCLI() *RoutesCLI {
	return &RoutesCLI{}
}

// RoutesValidateOptions defines available flags for the routes validate command.
type RoutesValidateOptions struct {
	Path       string
	Groups     []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RoutesValidateSummary describes the JSON response for routes validate.
type RoutesValidateSummary struct {
	OK       bool                 `json:"ok"`
	Valid    []string             `json:"valid"`
	Problems []RouteValidateIssue `json:"problems"`
}

// RouteValidateIssue explains why one route would be dropped on reload.
type RouteValidateIssue struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
}

type groupSet map[string]struct{}

func (g groupSet) HasSlug(slug string) bool {
	_, ok := g[slug]
	return ok
}

// ValidateCommand loads a YAML route file and reports every route a reload
// would drop. Exit code 10 signals invalid routes.
func (c *RoutesCLI) ValidateCommand(ctx context.Context, opts RoutesValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Path == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "routes validate: --file is required")
		return 1
	}
	loaded, err := routes.FileSource{Path: opts.Path}.LoadAll(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "routes validate: %v\n", err)
		return 1
	}
	summary := c.Validate(loaded, opts.Groups)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "routes validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderRoutesHuman(opts.Stdout, opts.Path, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

// Validate applies the reload checks to loaded. When groups is empty the
// security group check is skipped.
func (c *RoutesCLI) Validate(loaded []routes.Route, groups []string) RoutesValidateSummary {
	var checker routes.GroupChecker
	if len(groups) > 0 {
		set := make(groupSet, len(groups))
		for _, g := range groups {
			set[g] = struct{}{}
		}
		checker = set
	}
	summary := RoutesValidateSummary{Valid: []string{}, Problems: []RouteValidateIssue{}}
	seen := make(map[string]bool, len(loaded))
	for _, route := range loaded {
		switch err := route.Validate(); {
		case err != nil:
			summary.Problems = append(summary.Problems, RouteValidateIssue{Service: route.Service, Reason: err.Error()})
		case checker != nil && route.SecurityGroup != "" && !checker.HasSlug(route.SecurityGroup):
			summary.Problems = append(summary.Problems, RouteValidateIssue{
				Service: route.Service,
				Reason:  fmt.Sprintf("unknown security group %q", route.SecurityGroup),
			})
		case seen[route.Service]:
			summary.Problems = append(summary.Problems, RouteValidateIssue{
				Service: route.Service,
				Reason:  "duplicate service",
			})
		default:
			seen[route.Service] = true
			summary.Valid = append(summary.Valid, route.Service)
		}
	}
	sort.Strings(summary.Valid)
	sort.SliceStable(summary.Problems, func(i, j int) bool { return summary.Problems[i].Service < summary.Problems[j].Service })
	summary.OK = len(summary.Problems) == 0
	return summary
}

func renderRoutesHuman(out io.Writer, path string, summary RoutesValidateSummary) {
	_, _ = fmt.Fprintf(out, "Route validation for %s\n", path)
	_, _ = fmt.Fprintf(out, "%d valid route(s)\n", len(summary.Valid))
	for _, service := range summary.Valid {
		_, _ = fmt.Fprintf(out, " - %s\n", service)
	}
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All routes would be served.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d route(s) would be dropped:\n", len(summary.Problems))
	for _, p := range summary.Problems {
		_, _ = fmt.Fprintf(out, " - %s: %s\n", p.Service, p.Reason)
	}
}
