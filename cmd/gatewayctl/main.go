package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-gateway/cmd/gatewayctl/cli"
)

// exitCode carries a non-zero process status out of a command without
// printing an extra error line.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	os.Exit(execute(context.Background(), newRootCmd(), os.Args[1:]))
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operate the odyssey gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRoutesCmd(), newJobsCmd())
	return root
}

func newRoutesCmd() *cobra.Command {
	routesCmd := &cobra.Command{Use: "routes", Short: "Inspect route definitions"}

	var opts cli.RoutesValidateOptions
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Report routes a reload would drop",
		Long:  "Loads a YAML route file and reports invalid, duplicate or unknown-group routes. Exit status 10 means at least one route is invalid.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			if code := cli.NewRoutesCLI().ValidateCommand(cmd.Context(), opts); code != 0 {
				return exitCode(code)
			}
			return nil
		},
	}
	validateCmd.Flags().StringVar(&opts.Path, "file", os.Getenv("ROUTES_FILE"), "YAML route file")
	validateCmd.Flags().StringSliceVar(&opts.Groups, "groups", nil, "known security group slugs")
	validateCmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "emit JSON")

	routesCmd.AddCommand(validateCmd)
	return routesCmd
}

func newJobsCmd() *cobra.Command {
	var redisAddr string
	jobsCmd := &cobra.Command{Use: "jobs", Short: "Trigger and inspect worker tasks"}
	jobsCmd.PersistentFlags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address")

	withJobs := func(cmd *cobra.Command, fn func(*cli.JobsCLI) error) error {
		jobsCLI, err := cli.NewJobsCLI(redisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = jobsCLI.Close() }()
		return fn(jobsCLI)
	}

	triggerCmd := &cobra.Command{
		Use:       "trigger <webhook:sweep|idempotency:prune|webhook:deliver> [propagation-id]",
		Short:     "Enqueue a worker task now",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"webhook:sweep", "idempotency:prune", "webhook:deliver"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var arg string
			if len(args) > 1 {
				arg = args[1]
			}
			return withJobs(cmd, func(jobsCLI *cli.JobsCLI) error {
				info, err := jobsCLI.Trigger(cmd.Context(), args[0], arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}

	var queue string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd, func(jobsCLI *cli.JobsCLI) error {
				stats, err := jobsCLI.InspectQueue(cmd.Context(), queue)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				return nil
			})
		},
	}
	statsCmd.Flags().StringVar(&queue, "queue", "", "queue to inspect (default webhooks)")

	jobsCmd.AddCommand(triggerCmd, statsCmd)
	return jobsCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
