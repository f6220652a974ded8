// internal/engine/batch/concurrency.go
package batch

import (
	"runtime"
)

// approxBrowserMB is a rough resident size of one headless Chrome with a
// couple of open tabs.
const approxBrowserMB = 200

// OptimalConcurrency returns how many chunks to run in parallel when none
// is configured: one per page slot the pool can offer, capped by CPU count
// and by the memory the runtime can see.
func OptimalConcurrency(maxBrowsers, pagesPerBrowser int) int {
	if maxBrowsers <= 0 {
		maxBrowsers = 1
	}
	if pagesPerBrowser <= 0 {
		pagesPerBrowser = 1
	}
	optimal := maxBrowsers * pagesPerBrowser

	numCPU := runtime.NumCPU()
	if optimal > numCPU*2 {
		optimal = numCPU * 2
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	availMB := (m.Sys - m.Alloc) / 1024 / 1024
	maxByMemory := int(availMB/approxBrowserMB) * pagesPerBrowser

	if maxByMemory > 0 && maxByMemory < optimal {
		optimal = maxByMemory
	}
	if optimal < 1 {
		optimal = 1
	}
	return optimal
}
