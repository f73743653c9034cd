package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/bootstrap"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/config"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/observability/logging"
)

var rootCmd = &cobra.Command{
	Use:           "ingest",
	Short:         "Build and activate docent corpus snapshots",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [chunks-file]",
	Short: "Rebuild the corpus from a JSON or JSONL chunk file",
	Long: `Reads pre-chunked records ({"text": ..., "metadata": {...}}) as a JSON
array, a {"chunks": [...]} object or JSON lines, embeds them, persists a new
snapshot and announces it to running API replicas. Use "-" for stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runRebuild,
}

var reloadCmd = &cobra.Command{
	Use:   "reload [version]",
	Short: "Verify that a persisted snapshot loads (defaults to CURRENT)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReload,
}

func init() {
	rootCmd.AddCommand(rebuildCmd, reloadCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("ingest_failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newApp(cmd *cobra.Command) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.NewJSONLogger("ingest", cfg.LogLevel))
	return bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Service: "ingest", WithoutConversations: true})
}

func runRebuild(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open chunks file: %w", err)
		}
		defer f.Close()
		in = f
	}
	records, err := readRecords(in)
	if err != nil {
		return err
	}

	dropped := stripCrawlerKeys(records)

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if dropped > 0 {
		slog.Info("crawler_keys_dropped", "count", dropped, "chunks", len(records))
	}
	version, err := app.Corpus.Rebuild(cmd.Context(), records)
	if err != nil {
		return err
	}
	cmd.Printf("corpus %s built from %d chunks\n", version, len(records))
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	version := ""
	if len(args) == 1 {
		version = args[0]
	}
	if err := app.Corpus.Reload(cmd.Context(), version); err != nil {
		return err
	}
	snap := app.Holder.Load()
	cmd.Printf("corpus %s loaded: %d chunks, embedding model %s\n", snap.Version, snap.Len(), snap.EmbeddingModel)
	return nil
}
