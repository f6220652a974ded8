// Package cli provides the command-line interface for the locscrape application.
package cli

import (
	"context"
	"sync"
	"time"

	"github.com/law-makers/locscrape/internal/app"
	"github.com/rs/zerolog/log"
)

var (
	appMu     sync.Mutex
	globalApp *app.Application
)

// SetApp stores the Application shared by the running command
func SetApp(a *app.Application) {
	appMu.Lock()
	defer appMu.Unlock()
	globalApp = a
}

// GetApp retrieves the Application, or nil before initialization
func GetApp() *app.Application {
	appMu.Lock()
	defer appMu.Unlock()
	return globalApp
}

// Shutdown closes the running Application, if any. Commands still running
// see their in-flight identifiers fail and finish with a partial result.
func Shutdown() {
	a := GetApp()
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Shutdown finished with errors")
	}
}
