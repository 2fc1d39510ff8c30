package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/slidesmith/pptx-pipeline/internal/cache"
	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/observability"
	"github.com/slidesmith/pptx-pipeline/internal/pipeline"
	"github.com/slidesmith/pptx-pipeline/internal/render"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
)

var (
	processInputFile string
	processOutDir    string
	processBridgeURL string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a .pptx file without the server",
	Long:  "Run a single deck through the full pipeline. Slide SVGs and the result JSON land under the output directory in the same layout the server uses.",
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processInputFile, "in", "i", "", "Path to the .pptx file (required)")
	processCmd.Flags().StringVarP(&processOutDir, "out", "o", "./data", "Output directory")
	processCmd.Flags().StringVar(&processBridgeURL, "bridge-url", "", "Renderer bridge URL (default: fallback rendering)")
	_ = processCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(processCmd)
}

func runProcess(_ *cobra.Command, _ []string) error {
	data, err := os.ReadFile(processInputFile)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "pptx_processor",
	})

	gateway, err := storage.NewLocal(processOutDir, "http://localhost", nil)
	if err != nil {
		return fmt.Errorf("failed to create storage gateway: %w", err)
	}

	var bridge *render.Bridge
	if processBridgeURL != "" {
		bridge = render.NewBridge(processBridgeURL, nil, log)
	}
	selector := render.NewSelector(bridge, nil, log)

	ctx := context.Background()
	sum := sha256.Sum256(data)
	documentID := hex.EncodeToString(sum[:])
	if err := gateway.Put(ctx, storage.SourceKey(documentID), data,
		"application/vnd.openxmlformats-officedocument.presentationml.presentation"); err != nil {
		return fmt.Errorf("failed to store source: %w", err)
	}

	job := jobs.NewJob(jobs.KindProcess, uuid.NewString(), documentID)
	processor := pipeline.NewProcessor(gateway, selector, cache.Disabled(), nil, nil, log)
	resultKey, err := processor.Handle(ctx, job, func(progress int, stage string) {
		fmt.Printf("  %3d%%  %s\n", progress, stage)
	})
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	fmt.Printf("Result written to %s/%s\n", processOutDir, resultKey)
	return nil
}
