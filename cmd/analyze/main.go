package main

// Analyze local files without the HTTP server:
//   go run ./cmd/analyze -model anthropic/claude-sonnet-4.6 -out report.json tender.zip spec.pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/bootstrap"
	"github.com/marcobitx/foxdoc/internal/shared/config"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()

	model := flag.String("model", cfg.DefaultModel, "Model id")
	analysisType := flag.String("type", "detailed", "Analysis type: quick, detailed or compliance")
	thinking := flag.String("thinking", "", "Reasoning level override: off, low, medium or high")
	instructions := flag.String("instructions", "", "Custom instructions for the model")
	outPath := flag.String("out", "", "Path to write the analysis JSON (optional)")
	storeDir := flag.String("store", "", "Directory for stored uploads (default: temp dir)")
	flag.Parse()

	if flag.NArg() == 0 {
		exitErr("at least one file is required")
	}
	telemetry.Configure(cfg.LogLevel)

	// Everything runs in this process against in-memory repositories.
	cfg.Env = "local"
	cfg.DatabaseURL = ""
	cfg.SQSQueueURL = ""
	cfg.ObjectStoreType = "local"
	cfg.LocalStoreDir = *storeDir
	if cfg.LocalStoreDir == "" {
		dir, err := os.MkdirTemp("", "foxdoc-cli-*")
		if err != nil {
			exitErr(fmt.Sprintf("temp dir: %v", err))
		}
		defer os.RemoveAll(dir)
		cfg.LocalStoreDir = dir
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		exitErr(fmt.Sprintf("bootstrap: %v", err))
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := run(ctx, app, analyses.StartInput{
		Model:              *model,
		Thinking:           *thinking,
		AnalysisType:       *analysisType,
		CustomInstructions: *instructions,
	}, flag.Args())
	if err != nil {
		exitErr(err.Error())
	}

	pretty, err := prettyJSON(a)
	if err != nil {
		exitErr(fmt.Sprintf("format json: %v", err))
	}
	if *outPath != "" {
		if err := os.WriteFile(*outPath, pretty, 0o644); err != nil {
			exitErr(fmt.Sprintf("write output: %v", err))
		}
	}
	if _, err := os.Stdout.Write(pretty); err != nil {
		exitErr(fmt.Sprintf("write stdout: %v", err))
	}
	if a.Status != analyses.StatusCompleted {
		os.Exit(2)
	}
}

// run starts the analysis, waits for the run and its evaluation, and returns
// the final record. Interrupting cancels the analysis.
func run(ctx context.Context, app *bootstrap.App, in analyses.StartInput, paths []string) (analyses.Analysis, error) {
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return analyses.Analysis{}, fmt.Errorf("open %s: %w", p, err)
		}
		closers = append(closers, f)
		in.Files = append(in.Files, analyses.FileInput{Name: filepath.Base(p), Reader: f})
	}

	a, err := app.AnalysesService.Start(ctx, in)
	if err != nil {
		return analyses.Analysis{}, fmt.Errorf("start analysis: %w", err)
	}
	telemetry.Info("cli.started", map[string]any{"analysis_id": a.ID, "files": len(paths)})

	done := make(chan struct{})
	go func() {
		app.Runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_, _ = app.AnalysesService.Cancel(context.Background(), a.ID)
		<-done
	}
	return app.AnalysesService.Get(context.Background(), a.ID)
}

func prettyJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exitErr(msg string) {
	_, _ = fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
