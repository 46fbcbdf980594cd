package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/shiprelay/core/logger"
)

// Config defines the HTTP listener.
type Config struct {
	Addr string `json:"addr"`
	// LogsToken protects GET /api/dispatch/logs when set.
	LogsToken string `json:"logs_token"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
}

// Serve runs an HTTP server for h on addr until ctx is canceled, then shuts
// it down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, log logger.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Infof("http api listening on %s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
