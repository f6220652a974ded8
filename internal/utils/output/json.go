package output

import (
	"encoding/json"
	"os"

	"github.com/law-makers/locscrape/pkg/models"
)

// SaveJSON writes the batch result as indented JSON to filepath
func SaveJSON(result *models.BatchResult, filepath string) error {
	content, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, content, 0644)
}
