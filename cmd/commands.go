package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tweench/internal/blob"
	"tweench/internal/clients"
	"tweench/internal/logger"
	"tweench/internal/models"
	"tweench/internal/queue"
	"tweench/internal/server"
	"tweench/internal/storage"
)

type app struct {
	configPath string
	cfg        *models.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "tweench",
		Short:         "Archive media posted to Reddit",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := models.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to the YAML config file")

	root.AddCommand(
		a.newServeCmd(),
		a.newConsumeCmd(),
		a.newEnqueueCmd(),
		a.newClassifyCmd(),
		a.newIngestCmd(),
	)
	return root
}

func (a *app) registry(ctx context.Context, opts ...clients.Option) (*clients.Registry, error) {
	return clients.New(ctx, a.cfg, logger.L, opts...)
}

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the queue consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			arch, err := reg.Archiver(ctx)
			if err != nil {
				return err
			}
			store, err := reg.Store(ctx)
			if err != nil {
				return err
			}
			srv := server.NewServer(a.cfg.ServerAddr, reg.Producer(), store, reg.Classifier(), logger.L)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return reg.Consumer().Run(gctx, arch.Handle) })
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

func (a *app) newConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Process queued archive requests",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			reg, err := a.registry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			arch, err := reg.Archiver(ctx)
			if err != nil {
				return err
			}
			return reg.Consumer().Run(ctx, arch.Handle)
		},
	}
}

func (a *app) newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a subreddit or a post for archiving",
	}
	enqueue := func(typ string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			defer reg.Close()

			for _, arg := range args {
				msg, err := reg.Producer().Enqueue(cmd.Context(), typ, arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", msg.ID, msg.Type, msg.Body)
			}
			return nil
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "subreddit <name>...",
			Short: "Archive the listed posts of one or more subreddits",
			Args:  cobra.MinimumNArgs(1),
			RunE:  enqueue(queue.TypeStoreSubreddit),
		},
		&cobra.Command{
			Use:   "post <id>...",
			Short: "Archive one or more posts",
			Args:  cobra.MinimumNArgs(1),
			RunE:  enqueue(queue.TypeStorePost),
		},
	)
	return cmd
}

func (a *app) newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <url>",
		Short: "Show the assets a post URL resolves to, without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.registry(cmd.Context())
			if err != nil {
				return err
			}
			defer reg.Close()

			return printJSON(cmd.OutOrStdout(), reg.Classifier().Classify(cmd.Context(), args[0]))
		},
	}
}

func (a *app) newIngestCmd() *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Run the media pipeline for one URL and print the records",
		Long: `Run the media pipeline for a single post URL in the foreground.

With --memory, blobs are kept in memory and metadata is only logged, so the
command touches no external storage.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var opts []clients.Option
			if memory {
				opts = append(opts,
					clients.WithBlobStore(blob.NewMemoryStore()),
					clients.WithStore(storage.NewLogging(logger.L)))
			}
			reg, err := a.registry(ctx, opts...)
			if err != nil {
				return err
			}
			defer reg.Close()

			store, err := reg.Store(ctx)
			if err != nil {
				return err
			}
			records := reg.Pipeline(store).Process(ctx, args[0])
			if err := store.PutImages(ctx, records); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "keep blobs in memory and only log metadata")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
