// internal/cli/get.go
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/law-makers/locscrape/internal/ui"
	"github.com/law-makers/locscrape/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var getJSON bool

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get <identifier>",
	Short: "Scrape filming locations for a single title",
	Long: `Refreshes one title through the same acquire, extract and retry path
as a batch, without chunking. Useful for on-demand refreshes.`,
	Example: `  # Print the locations of one title
  locscrape get tt0111161

  # Print them as JSON
  locscrape get tt0111161 --as-json`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().BoolVar(&getJSON, "as-json", false, "Print records as JSON")
}

func runGet(cmd *cobra.Command, args []string) error {
	a := GetApp()
	if a == nil {
		return fmt.Errorf("application not initialized")
	}

	id := args[0]
	log.Info().Str("identifier", id).Msg("Scraping title")

	task, err := a.Orchestrator.ScrapeOne(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("scrape %s: %w", id, err)
	}
	if task.Status != models.StatusSucceeded {
		return fmt.Errorf("scrape %s failed after %d retries: %w", id, task.RetryCount, task.LastError)
	}

	result := models.NewBatchResult()
	result.Locations[id] = task.Records
	if err := a.Publish(cmd.Context(), result); err != nil {
		log.Error().Err(err).Msg("Failed to publish locations")
	}

	if getJSON {
		return printRecordsJSON(os.Stdout, task.Records)
	}
	printRecords(os.Stdout, id, task.Records)
	return nil
}

func printRecordsJSON(w io.Writer, records []models.RawLocationRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func printRecords(w io.Writer, id string, records []models.RawLocationRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, ui.Info("No filming locations listed for "+id))
		return
	}

	fmt.Fprintf(w, "\n%s %s\n", ui.Bold("Filming locations for"), ui.Value(id))
	for i, r := range records {
		fmt.Fprintf(w, "  %s %s\n", ui.Muted(fmt.Sprintf("%d.", i+1)), r.Address)
		if r.Description != "" {
			fmt.Fprintf(w, "     %s\n", ui.Info(r.Description))
		}
	}
	fmt.Fprintln(w)
}
