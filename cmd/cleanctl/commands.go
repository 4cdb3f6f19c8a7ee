package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"data-cleaning-service/internal/app"
	"data-cleaning-service/internal/blob"
	"data-cleaning-service/internal/config"
	"data-cleaning-service/internal/mcptools"
	"data-cleaning-service/internal/models"
	"data-cleaning-service/internal/pipeline"
	"data-cleaning-service/internal/store/sqlite"
	"data-cleaning-service/internal/transform"
)

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run <input.csv>",
	Short: "Clean a CSV file locally",
	Long: `Run the full pipeline (profile, suggest, apply) on one CSV file without
a database, queue or object store.

Examples:
  cleanctl run sales.csv -o sales_clean.csv
  cleanctl run sales.csv --report report.md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		reportPath, _ := cmd.Flags().GetString("report")
		cfg := config.Load()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		res, err := runLocal(cmd.Context(), cfg, filepath.Base(args[0]), data, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		if output == "" {
			_, err = cmd.OutOrStdout().Write(res.cleaned)
		} else {
			err = os.WriteFile(output, res.cleaned, 0o644)
		}
		if err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		if reportPath != "" {
			if err := os.WriteFile(reportPath, []byte(res.report), 0o644); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "job %s: %d step(s) applied\n", res.job.ID, res.steps)
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("output", "o", "", "cleaned CSV path (default: stdout)")
	runCmd.Flags().String("report", "", "write the markdown cleaning report to this path")
}

type localResult struct {
	job     models.Job
	cleaned []byte
	report  string
	steps   int
}

// runLocal drives one job through every phase in process.
func runLocal(ctx context.Context, cfg config.Config, filename string, data []byte, logOut io.Writer) (localResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := app.Logger(cfg, logOut)

	st, err := sqlite.Open(":memory:")
	if err != nil {
		return localResult{}, fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	dir, err := os.MkdirTemp("", "cleanctl-*")
	if err != nil {
		return localResult{}, fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dispatcher := pipeline.NewLocalDispatcher(ctx, 1, log)
	svc := pipeline.New(pipeline.Options{
		Store:      st,
		Blobs:      blob.NewLocal(dir),
		Dispatcher: dispatcher,
		Engine:     app.Engine(cfg),
		Log:        log,
	})
	dispatcher.Bind(svc.Handle)

	job, err := svc.CreateJob(ctx, filename, data)
	if err != nil {
		return localResult{}, err
	}
	if _, err := svc.StartProfiling(ctx, job.ID); err != nil {
		return localResult{}, err
	}
	if err := dispatcher.Wait(); err != nil {
		return localResult{}, err
	}

	job, err = svc.GetJob(ctx, job.ID)
	if err != nil {
		return localResult{}, err
	}
	if job.Status != models.StatusDone {
		return localResult{}, fmt.Errorf("job %s ended %s", job.ID, job.Status)
	}

	res := localResult{job: job}
	if res.cleaned, err = svc.Download(ctx, job.ID); err != nil {
		return localResult{}, err
	}
	if res.report, err = svc.Report(ctx, job.ID); err != nil {
		return localResult{}, err
	}
	set, err := svc.LatestSuggestions(ctx, job.ID)
	if err != nil {
		return localResult{}, err
	}
	res.steps = len(set.Suggestions)
	return res, nil
}

// --- transformations ---

var transformationsCmd = &cobra.Command{
	Use:   "transformations",
	Short: "List the registered cleaning operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range transform.NewRegistry().Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the profiling and suggestion tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		srv := mcptools.NewServer(mcptools.Deps{
			Registry: transform.NewRegistry(),
			Engine:   app.Engine(cfg),
			Version:  version,
		})
		ctx := cmd.Context()
		err := server.NewStdioServer(srv).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored uploads, cleaned files and reports past retention",
	Long: `Delete artifacts from the configured blob store (DATA_DIR or S3_BUCKET)
older than --older-than.

Examples:
  cleanctl sweep --older-than 72h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			olderThan = cfg.Retention
		}
		ctx := cmd.Context()
		blobs, err := blob.Open(ctx, cfg)
		if err != nil {
			return err
		}
		svc := pipeline.New(pipeline.Options{Blobs: blobs, Log: app.Logger(cfg, cmd.ErrOrStderr())})
		n, err := svc.Sweep(ctx, olderThan)
		fmt.Fprintf(cmd.OutOrStdout(), "swept %d artifact(s)\n", n)
		return err
	},
}

func init() {
	sweepCmd.Flags().Duration("older-than", 0, "age threshold (default: RETENTION)")
}
