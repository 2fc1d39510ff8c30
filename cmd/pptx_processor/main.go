// Package main provides the entry point for the presentation processing service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pptx_processor",
	Short: "Presentation processing service",
	Long:  "pptx_processor converts uploaded .pptx decks into per-slide SVG images with positioned text shapes, and reconstructs translated decks from edited text, via REST API or one-shot commands.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
