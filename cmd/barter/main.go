package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/barterlabs/go-barter/env"
	"github.com/barterlabs/go-barter/server"
	"github.com/barterlabs/go-barter/service/persist"
	"github.com/barterlabs/go-barter/service/registry"
	"github.com/barterlabs/go-barter/service/tenant"
	"github.com/barterlabs/go-barter/service/webhook"
)

// sysexits-style codes so scripts can tell config mistakes from outages.
const (
	exitOK       = 0
	exitUsage    = 64
	exitNoTenant = 69
	exitTimeout  = 75
	exitInternal = 70
)

func main() {
	root := &cobra.Command{
		Use:           "barter",
		Short:         "multi-tenant barter loop discovery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), replayCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "barter:", err)
		os.Exit(codeFor(err))
	}
}

func codeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &persist.ErrInvalidMutation{}):
		return exitUsage
	case errors.As(err, &persist.ErrTenantNotFound{}):
		return exitNoTenant
	case errors.Is(err, context.DeadlineExceeded):
		return exitTimeout
	default:
		return exitInternal
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP ingestion server",
		RunE: func(cmd *cobra.Command, args []string) error {
			server.Init()
			return http.ListenAndServe(fmt.Sprintf(":%d", env.GetInt(cmd.Context(), "PORT")), nil)
		},
	}
}

func replayCmd() *cobra.Command {
	var (
		minScore float64
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <mutations.jsonl>",
		Short: "apply a JSONL mutation stream to a fresh tenant and print discovered loops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			engine := tenant.NewEngine(persist.NewMemoryStore(), webhook.NewHTTPTransport())
			defer engine.Shutdown(ctx)

			created, err := engine.CreateTenant(ctx, "replay", persist.DefaultTenantConfig())
			if err != nil {
				return err
			}

			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			line := 0
			for scanner.Scan() {
				line++
				raw := scanner.Bytes()
				if len(raw) == 0 {
					continue
				}
				var m persist.Mutation
				if err := json.Unmarshal(raw, &m); err != nil {
					return persist.ErrInvalidMutation{Reason: fmt.Sprintf("line %d: %s", line, err)}
				}
				if err := engine.Submit(ctx, created.ID, m); err != nil {
					if errors.Is(err, context.DeadlineExceeded) {
						return err
					}
					fmt.Fprintf(os.Stderr, "line %d: %s\n", line, err)
				}
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			loops, err := engine.QueryLoops(ctx, created.ID, registry.QueryOptions{MinScore: minScore})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(loops)
		},
	}

	cmd.Flags().Float64Var(&minScore, "min-score", 0, "only print loops at or above this score")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "abort the replay after this long")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant-id>",
		Short: "print a tenant's status from the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.AutomaticEnv()
			ctx := cmd.Context()

			engine := tenant.NewEngine(server.NewStore(ctx), webhook.NewHTTPTransport())
			defer engine.Shutdown(ctx)

			if err := engine.LoadFromStore(ctx); err != nil {
				return err
			}

			status, err := engine.Status(ctx, persist.TenantID(args[0]))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}
