// internal/cli/root.go
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/law-makers/locscrape/internal/app"
	"github.com/law-makers/locscrape/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "locscrape",
	Short: "Scrape filming locations for titles with a pool of headless browsers",
	Long: `Locscrape drives headless Chrome against a title's locations page,
expands the full list and extracts every filming location.

Configuration comes from defaults, an optional .locscrape.yaml file,
LOCSCRAPE_* environment variables and flags, in that order.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	// PersistentPostRun is skipped when a command fails
	Shutdown()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Lazily initialize the application before running commands (avoid starting browsers for -h/help)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if GetApp() != nil {
			return nil
		}

		cfg, err := config.Load(cmd)
		if err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		SetApp(a)
		return nil
	}

	// Ensure app is closed after command runs
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		Shutdown()
	}
}
