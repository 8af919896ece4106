// Package cli implements ocrctl, the operator command line.
//
//	ocrctl run <file.pdf> [-o out.txt] [--pages N]   OCR a local file, no queue involved
//	ocrctl enqueue <job-id>...                       re-send job ids to the work queue
//	ocrctl status [job-id]                           print a job record, or counts by status
//
// Every command reads the same configuration as the services: --config
// (or CONFIG_FILE) names an optional YAML file, environment variables win.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pdf-ocr-pipeline/internal/config"
	"pdf-ocr-pipeline/internal/logging"
	"pdf-ocr-pipeline/internal/models"
	"pdf-ocr-pipeline/internal/ocr"
	"pdf-ocr-pipeline/internal/queue"
	"pdf-ocr-pipeline/internal/splitter"
	"pdf-ocr-pipeline/internal/store"
)

const version = "0.3.0"

// app carries the flags and the seams tests replace.
type app struct {
	configPath string
	newModel   func(ctx context.Context, apiKey string) (ocr.Model, error)
	split      splitter.Func
	newLogger  func(env string) (*zap.Logger, error)
}

func defaultApp() *app {
	return &app{
		newModel: ocr.NewGeminiModel,
		split:    splitter.SplitPDF,
		newLogger: func(env string) (*zap.Logger, error) {
			return logging.New(env, "ocrctl")
		},
	}
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	return defaultApp().rootCommand()
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ocrctl",
		Short:         "Operate the PDF OCR pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")

	root.AddCommand(a.runCommand(), a.enqueueCommand(), a.statusCommand())
	return root
}

func (a *app) loadConfig() (config.Config, error) {
	return config.Load(a.configPath)
}

func (a *app) runCommand() *cobra.Command {
	var (
		output string
		pages  int
	)
	cmd := &cobra.Command{
		Use:   "run <file.pdf>",
		Short: "Run chunked OCR on a local PDF and write the text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if pages > 0 {
				cfg.PagesPerSplit = pages
			}
			if err := cfg.ValidateOCR(); err != nil {
				return err
			}

			log, err := a.newLogger(cfg.Env)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = log.Sync() }()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			if n, err := splitter.CountPages(data); err == nil {
				log.Info("ocrctl.input", zap.String("file", args[0]), zap.Int("pages", n), zap.Int("pages_per_part", cfg.PagesPerSplit))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			model, err := a.newModel(ctx, cfg.GeminiAPIKey)
			if err != nil {
				return err
			}
			opts, err := ocr.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}
			proc := ocr.NewChunkedProcessor(model, a.split, opts, log)

			docName := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			res, err := proc.Process(ctx, docName, data, cfg.PagesPerSplit)
			if err != nil {
				return err
			}

			if err := writeText(cmd.OutOrStdout(), output, res.Text()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "chunks=%d complete=%d partial=%d dropped=%d tokens=%d\n",
				len(res.Chunks), res.Count(ocr.ChunkComplete), res.Count(ocr.ChunkPartial),
				res.Count(ocr.ChunkDropped), res.TotalTokens())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write text to this file instead of stdout")
	cmd.Flags().IntVarP(&pages, "pages", "p", 0, fmt.Sprintf("pages per chunk, 1..%d (defaults to PAGES_PER_SPLIT)", config.MaxPagesPerSplit))
	return cmd
}

func writeText(stdout io.Writer, path, text string) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, text)
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (a *app) enqueueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-id>...",
		Short: "Send job ids to the work queue",
		Long: `Send job ids to the work queue. Use it for records that exist but have no
live message, e.g. after the API answered "job created but failed to be queued".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			q := queue.NewRedisQueue(cfg)
			defer q.Close()
			if err := q.Init(ctx); err != nil {
				return err
			}
			for _, id := range args {
				if err := q.Send(ctx, id); err != nil {
					return fmt.Errorf("enqueue %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s\n", id)
			}
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job record, or job counts by status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			st, err := store.New(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer st.Close()

			if len(args) == 0 {
				counts, err := st.CountByStatus(ctx)
				if err != nil {
					return err
				}
				return printCounts(cmd.OutOrStdout(), counts)
			}

			job, err := st.GetJob(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no job %s", args[0])
			}
			if err != nil {
				return err
			}
			return printJob(cmd.OutOrStdout(), job)
		},
	}
}

func printJob(w io.Writer, job models.Job) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(job)
}

func printCounts(w io.Writer, counts map[models.JobStatus]int64) error {
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		if _, err := fmt.Fprintf(w, "%-10s %d\n", s, counts[models.JobStatus(s)]); err != nil {
			return err
		}
	}
	return nil
}
