package output

import (
	"encoding/csv"
	"os"

	"github.com/law-makers/locscrape/pkg/models"
)

var csvHeader = []string{"identifier", "status", "address", "description", "error"}

// SaveCSV writes one row per location record, one row per title with no
// locations, and one row per failed title.
func SaveCSV(result *models.BatchResult, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, id := range result.Succeeded() {
		records := result.Locations[id]
		if len(records) == 0 {
			if err := writer.Write([]string{id, string(models.StatusSucceeded), "", "", ""}); err != nil {
				return err
			}
			continue
		}
		for _, r := range records {
			if err := writer.Write([]string{id, string(models.StatusSucceeded), r.Address, r.Description, ""}); err != nil {
				return err
			}
		}
	}

	for _, id := range result.Failed {
		if err := writer.Write([]string{id, string(models.StatusFailed), "", "", result.Errors[id]}); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
