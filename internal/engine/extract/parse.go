package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/law-makers/locscrape/internal/engine"
	"github.com/law-makers/locscrape/pkg/models"
)

// IsLikelyAddress reports whether address looks like a real filming
// location: non-empty, not one of the placeholder strings (compared
// case-insensitively), and at least two non-empty comma-separated parts.
// Single-token entries are almost always UI noise.
func IsLikelyAddress(address string, placeholders []string) bool {
	a := normalizeSpace(address)
	if a == "" {
		return false
	}
	for _, p := range placeholders {
		if strings.EqualFold(a, normalizeSpace(p)) {
			return false
		}
	}

	parts := 0
	for _, part := range strings.Split(a, ",") {
		if strings.TrimSpace(part) != "" {
			parts++
		}
	}
	return parts >= 2
}

// ParseLocations reads the item cards out of the locations section HTML in
// document order, dropping cards that fail IsLikelyAddress. The result is
// never nil.
func ParseLocations(html string, sel Selectors, placeholders []string) ([]models.RawLocationRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, engine.NewEngineError(engine.ErrCodeParseError, "invalid section html", err)
	}

	records := []models.RawLocationRecord{}
	doc.Find(sel.Item).Each(func(_ int, item *goquery.Selection) {
		address := normalizeSpace(item.Find(sel.ItemAddress).First().Text())
		if !IsLikelyAddress(address, placeholders) {
			return
		}

		var description string
		if sel.ItemDescription != "" {
			description = normalizeSpace(item.Find(sel.ItemDescription).First().Text())
		}

		records = append(records, models.RawLocationRecord{
			Address:     address,
			Description: description,
		})
	})

	return records, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
