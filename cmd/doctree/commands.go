package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/doctree/internal/db"
	"github.com/fruitsalade/doctree/internal/logging"
	"github.com/fruitsalade/doctree/internal/metrics"
	"github.com/fruitsalade/doctree/internal/reorder"
	"github.com/fruitsalade/doctree/internal/search"
	"github.com/fruitsalade/doctree/internal/vfs"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if current.cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			return db.Migrate(current.cfg.DatabaseURL)
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls PATH",
		Short: "List a folder in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := current.router.Readdir(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat PATH...",
		Short: "Describe one or more entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]vfs.FileInfo, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(current.cfg.DBMaxOpenConns)
			for i, p := range args {
				i, p := i, p
				g.Go(func() error {
					fi, err := current.router.Stat(ctx, p)
					if err != nil {
						return err
					}
					infos[i] = fi
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tTYPE\tSIZE\tMODIFIED")
			for i, fi := range infos {
				kind := "file"
				if fi.IsDirectory {
					kind = "dir"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", args[i], kind, fi.SizeBytes, fi.ModifiedTime.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func catCmd() *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "cat PATH",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := vfs.ReadFileString(cmd.Context(), current.router, args[0], encoding)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), s)
			return err
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", "", "Output encoding: utf8, latin1, base64 or hex")
	return cmd
}

func putCmd() *cobra.Command {
	var encoding, data string
	cmd := &cobra.Command{
		Use:   "put PATH",
		Short: "Create or replace a file from --data or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("data") {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				data = string(b)
			}
			return vfs.WriteFileString(cmd.Context(), current.router, args[0], data, encoding)
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", "", "Input encoding: utf8, latin1, base64 or hex")
	cmd.Flags().StringVar(&data, "data", "", "File content (default: read stdin)")
	return cmd
}

func mkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir PATH",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return current.router.Mkdir(cmd.Context(), args[0], vfs.MkdirOptions{Recursive: parents})
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "Create missing parents")
	return cmd
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv OLD NEW",
		Short: "Rename or move an entry within its root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return current.router.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func rmCmd() *cobra.Command {
	var recursive, force bool
	cmd := &cobra.Command{
		Use:   "rm PATH",
		Short: "Remove a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !recursive && !force {
				return current.router.Unlink(cmd.Context(), args[0])
			}
			return current.router.Rm(cmd.Context(), args[0], vfs.RmOptions{Recursive: recursive, Force: force})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove folders and their contents")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Ignore missing paths and remove folders")
	return cmd
}

func reorderCmd() *cobra.Command {
	var req reorder.Request
	var direction string
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Move an entry one position up or down among its siblings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Direction = reorder.Direction(direction)
			res, err := current.reorder.Move(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n%s -> %s\n",
				res.Target.From, res.Target.To, res.Neighbor.From, res.Neighbor.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.DocRootKey, "root", "", "Root key (required)")
	cmd.Flags().StringVar(&req.TreeFolder, "folder", "", "Absolute path of the containing folder (required)")
	cmd.Flags().StringVar(&req.Filename, "file", "", "Name of the entry to move (required)")
	cmd.Flags().StringVar(&direction, "direction", "up", "Direction: up or down")
	cmd.MarkFlagRequired("root")
	cmd.MarkFlagRequired("folder")
	cmd.MarkFlagRequired("file")
	return cmd
}

func searchCmd() *cobra.Command {
	var req search.Request
	var mode, order string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search file names and contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = args[0]
			req.Mode = vfs.SearchMode(mode)
			req.Order = vfs.SearchOrder(order)
			results, err := current.searcher.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.RootKey, r.Path, r.SizeBytes, r.ModifiedTime.Format(time.RFC3339), r.Date)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&req.Path, "path", "", "Folder to search (absolute path)")
	cmd.Flags().StringVar(&req.RootKey, "root", "", "Root key to search when no path is given")
	cmd.Flags().StringVar(&mode, "mode", "any", "Match mode: regex, any or all")
	cmd.Flags().StringVar(&order, "order", "modified", "Order: modified, name or date")
	cmd.Flags().IntVar(&req.Limit, "limit", search.DefaultLimit, "Maximum results")
	cmd.Flags().BoolVar(&req.RequireDate, "require-date", false, "Only match entries containing a YYYY-MM-DD date")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func serveMetricsCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Serve Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = current.cfg.MetricsAddr
			}
			if addr == "" {
				addr = ":9090"
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			server := &http.Server{Addr: addr, Handler: metrics.Handler()}
			go func() {
				<-ctx.Done()
				logging.Info("shutting down metrics server")
				server.Close()
			}()

			if current.exec != nil {
				go func() {
					ticker := time.NewTicker(15 * time.Second)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							current.exec.UpdateConnectionMetrics()
						}
					}
				}()
			}

			logging.Info("metrics server listening", zap.String("addr", addr))
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default METRICS_ADDR or :9090)")
	return cmd
}
