package engine

import (
	"context"
	"time"
)

// Page is the narrow query surface the extraction pipeline needs from a
// browser tab. Selectors are CSS. Every call is bounded by ctx.
type Page interface {
	// Navigate loads url and waits for the document to be ready
	Navigate(ctx context.Context, url string) error

	// Exists reports whether at least one node matches selector right now
	Exists(ctx context.Context, selector string) (bool, error)

	// Text returns the visible text of the first node matching selector
	Text(ctx context.Context, selector string) (string, error)

	// WaitVisible blocks until selector is visible or ctx expires
	WaitVisible(ctx context.Context, selector string) error

	// Count returns the number of nodes matching selector
	Count(ctx context.Context, selector string) (int, error)

	// ScrollIntoView scrolls the first node matching selector into view
	ScrollIntoView(ctx context.Context, selector string) error

	// Click clicks the first node matching selector
	Click(ctx context.Context, selector string) error

	// WaitForCountAbove blocks until more than n nodes match selector
	WaitForCountAbove(ctx context.Context, selector string, n int) error

	// OuterHTML returns the outer HTML of the first node matching selector
	OuterHTML(ctx context.Context, selector string) (string, error)

	// Screenshot captures the full page as PNG
	Screenshot(ctx context.Context) ([]byte, error)
}

// ScreenshotSink stores diagnostic captures
type ScreenshotSink interface {
	Save(identifier, step string, png []byte, at time.Time) (string, error)
}
