package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/slidesmith/pptx-pipeline/internal/export"
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

var (
	exportInputFile        string
	exportTranslationsFile string
	exportOutputFile       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Rebuild a deck with translated text",
	Long:  "Apply a translations JSON file (shape ID to replacement text) to a .pptx deck and write the reconstructed deck. Shapes without an entry keep their original text and formatting.",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportInputFile, "in", "i", "", "Path to the source .pptx file (required)")
	exportCmd.Flags().StringVarP(&exportTranslationsFile, "translations", "t", "", "Path to the translations JSON file (required)")
	exportCmd.Flags().StringVarP(&exportOutputFile, "out", "o", "translated.pptx", "Path for the reconstructed deck")
	_ = exportCmd.MarkFlagRequired("in")
	_ = exportCmd.MarkFlagRequired("translations")

	rootCmd.AddCommand(exportCmd)
}

func runExport(_ *cobra.Command, _ []string) error {
	archive, err := os.ReadFile(exportInputFile)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	raw, err := os.ReadFile(exportTranslationsFile)
	if err != nil {
		return fmt.Errorf("failed to read translations file: %w", err)
	}
	var translations types.Translations
	if err := json.Unmarshal(raw, &translations); err != nil {
		return fmt.Errorf("failed to parse translations: %w", err)
	}

	out, err := export.Reconstruct(archive, translations)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err := os.WriteFile(exportOutputFile, out, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Wrote %s (%d shapes translated)\n", exportOutputFile, len(translations))
	return nil
}
