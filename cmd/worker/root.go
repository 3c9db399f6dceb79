package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf-intake-worker/internal/config"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
)

var (
	cfgFile string
	envFile string
	verbose bool

	// cfg is loaded once in PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pdf-intake-worker",
	Short: "PDF intake worker - text, cédula, name and summary extraction",
	Long: `Consumes messages announcing PDF files, extracts their text page by page,
resolves the identity number and person name, summarizes the document and
emits one JSON record per referenced PDF.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		load := config.LoadConfig
		if cmd.Annotations["mode"] == "offline" {
			load = config.LoadOfflineConfig
		}
		loaded, err := load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			loaded.LogLevel = "debug"
		}
		logging.Configure(logging.Options{Level: loaded.LogLevel, Format: loaded.LogFormat})
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
