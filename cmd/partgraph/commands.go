package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/partgraph/internal/app"
	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/evidence"
	"github.com/agenthands/partgraph/internal/ingest"
)

const shutdownTimeout = 10 * time.Second

var (
	serveWithConsumer bool
	publishToStream   bool
	chainDepth        int
	confirmClear      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			srv := &http.Server{
				Addr:              a.Config.Server.Addr,
				Handler:           a.HTTPServer().SetupRouter(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.Logger.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.Logger.Info("http server shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			if serveWithConsumer {
				g.Go(func() error {
					return a.Consumer().Run(ctx)
				})
			}
			return g.Wait()
		})
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Ingest events from the Redis streams until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Consumer().Run(ctx)
		})
	},
}

type ingestSummary struct {
	Load   *evidence.LoadReport `json:"load"`
	Ingest *ingest.BatchReport  `json:"ingest,omitempty"`
	Queued int                  `json:"queued,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Load a scrape archive (<dir>/<source>/<session>/*.json) into the corpus and graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			records, load, err := evidence.LoadDir(args[0], a.Config.Evidence.MaxPayloadDepth)
			if err != nil {
				return err
			}
			for _, c := range load.Corrupt {
				a.Logger.Warn("skipping corrupt evidence file", zap.String("path", c.Path), zap.String("error", c.Error))
			}

			summary := ingestSummary{Load: load}
			if publishToStream {
				pub := a.Publisher()
				for _, rec := range records {
					if _, err := pub.Publish(ctx, ingest.KindEvidence, rec); err != nil {
						return err
					}
					summary.Queued++
				}
			} else {
				report := a.Ingestor.IngestBatch(ctx, ingest.EvidenceEvents(records))
				summary.Ingest = &report
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich <part-id>",
	Short: "Re-run extraction over everything the corpus knows about a part",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report, err := a.Ingestor.Enrich(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <part-id>",
	Short: "Show a part with its replacements, equivalents and specifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Resolver.LookupPart(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var chainCmd = &cobra.Command{
	Use:   "chain <part-id>",
	Short: "Follow the replacement chain of a part",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			depth := chainDepth
			if depth == 0 {
				depth = a.Config.Resolve.DefaultMaxDepth
			}
			chain, err := a.Resolver.ResolveChain(ctx, args[0], depth)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), chain)
		})
	},
}

var specCmd = &cobra.Command{
	Use:   "spec <type> <value>",
	Short: "Find parts carrying a specification",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Resolver.FindBySpec(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph and corpus counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Graph.Stats(ctx)
			if err != nil {
				return err
			}
			records, signals, err := a.Evidence.Counts(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"graph":            stats,
				"evidence_records": records,
				"signals":          signals,
			})
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create graph constraints and indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Build already applies the schema; this only reports it.
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Logger.Info("graph schema ensured", zap.String("backend", a.Config.Graph.Backend))
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every node and relationship from the graph (the corpus is kept)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmClear {
			return apperr.Validation("refusing to clear the graph without --confirm")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Graph.Clear(ctx); err != nil {
				return err
			}
			a.Logger.Warn("graph cleared")
			return nil
		})
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the read queries as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.MCPServer(version).Serve()
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWithConsumer, "consume", false, "Also consume the Redis ingestion streams")
	ingestCmd.Flags().BoolVar(&publishToStream, "publish", false, "Queue records on the evidence stream instead of ingesting in-process")
	chainCmd.Flags().IntVar(&chainDepth, "max-depth", 0, "Hops to follow, 1 to 5 (default from config)")
	clearCmd.Flags().BoolVar(&confirmClear, "confirm", false, "Confirm deletion")
}
