// internal/cli/scrape.go
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/law-makers/locscrape/internal/engine/batch"
	"github.com/law-makers/locscrape/internal/ui"
	"github.com/law-makers/locscrape/internal/utils/output"
	"github.com/law-makers/locscrape/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	inputPath  string
	outputPath string
	noProgress bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape [identifier...]",
	Short: "Scrape filming locations for a batch of titles",
	Long: `Scrapes every identifier in chunked waves across the browser pool,
retries failures, and gives whatever is still missing a slower second pass.
Every identifier ends up either with its locations or with a failure reason.`,
	Example: `  # Scrape three titles
  locscrape scrape tt0111161 tt0068646 tt0468569 --base-url https://www.example.com/title

  # Read identifiers from a file and save results as CSV
  locscrape scrape --input titles.txt --output locations.csv

  # Pipe identifiers in and append to a store
  cat titles.txt | locscrape scrape --input - --store locations.jsonl`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&inputPath, "input", "i", "", "File with one identifier per line (- for stdin)")
	scrapeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "File path to save results (.json or .csv)")
	scrapeCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ids, err := collectIdentifiers(args, inputPath)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no identifiers given: pass them as arguments or with --input")
	}

	a := GetApp()
	if a == nil {
		return fmt.Errorf("application not initialized")
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !noProgress && !quiet {
		a.Orchestrator.OnProgress(newProgress(os.Stderr).update)
	}

	start := time.Now()
	result := a.Orchestrator.ScrapeBatch(cmd.Context(), ids)

	if err := a.Publish(cmd.Context(), result); err != nil {
		log.Error().Err(err).Msg("Failed to publish locations")
	}

	if outputPath != "" {
		if err := saveResult(result, outputPath); err != nil {
			return err
		}
	}

	if !quiet {
		printSummary(os.Stdout, result, time.Since(start))
	}

	if len(result.Failed) > 0 {
		return fmt.Errorf("%d of %d identifier(s) failed", len(result.Failed), len(result.Failed)+len(result.Locations))
	}
	return nil
}

// progress renders orchestrator events; a new bar starts with each pass
type progress struct {
	mu   sync.Mutex
	w    io.Writer
	bar  *progressbar.ProgressBar
	pass string
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

func (p *progress) update(ev batch.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.pass != ev.Pass {
		if p.bar != nil {
			_ = p.bar.Finish()
		}
		p.pass = ev.Pass
		p.bar = progressbar.NewOptions(ev.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription(ev.Pass+" pass"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(p.w) }),
		)
	}
	_ = p.bar.Add(1)
}

func saveResult(result *models.BatchResult, path string) error {
	var err error
	switch {
	case strings.HasSuffix(path, ".csv"):
		err = output.SaveCSV(result, path)
	default:
		// Default to JSON
		err = output.SaveJSON(result, path)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	log.Info().Str("file", path).Msg("Output saved")
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.Success("✓ Saved to"), path)
	return nil
}

func printSummary(w io.Writer, result *models.BatchResult, elapsed time.Duration) {
	fmt.Fprintf(w, "\n%s\n", ui.Bold("Results:"))
	fmt.Fprintln(w, strings.Repeat("=", 60))

	for _, id := range result.Succeeded() {
		n := len(result.Locations[id])
		label := fmt.Sprintf("%d location(s)", n)
		if n == 0 {
			label = ui.Info("no locations")
		}
		fmt.Fprintf(w, "%s %s  %s\n", ui.Success("✓"), ui.Value(id), label)
	}
	for _, id := range result.Failed {
		fmt.Fprintf(w, "%s %s  %s\n", ui.Error("✗"), ui.Value(id), ui.Error(result.Errors[id]))
	}

	fmt.Fprintf(w, "\n%s\n", ui.Bold("Summary:"))
	fmt.Fprintf(w, "  %s %s\n", ui.Label("Titles:"), fmt.Sprintf("%d", len(result.Locations)+len(result.Failed)))
	fmt.Fprintf(w, "  %s %s\n", ui.Label("Success:"), ui.Success(fmt.Sprintf("%d", len(result.Locations))))
	fmt.Fprintf(w, "  %s %s\n", ui.Label("Failed:"), ui.Error(fmt.Sprintf("%d", len(result.Failed))))
	fmt.Fprintf(w, "  %s %s\n", ui.Label("Locations:"), fmt.Sprintf("%d", result.RecordCount()))
	fmt.Fprintf(w, "  %s %s\n", ui.Label("Duration:"), elapsed.Round(time.Millisecond).String())
}
