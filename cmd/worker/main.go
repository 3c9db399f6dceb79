/**
 * PDF Intake Worker - Main Entry Point
 *
 * Consumes intake messages announcing PDFs, extracts per-page text (native
 * with Tesseract fallback), resolves the cédula and person name, writes an
 * extractive summary and emits one JSON record per referenced PDF.
 *
 * Commands:
 * - consume: broker consumption (Redis list or asynq); directory replay
 *   when TEST_MODE is set
 * - scan: directory replay of PDF_INPUT_PATH
 * - enqueue: publish intake messages for local files
 * - summarize: summarize a text file
 */

package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
