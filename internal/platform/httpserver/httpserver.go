// Package httpserver builds the service's *http.Server.
package httpserver

import (
	"net/http"
	"time"

	"practicum/internal/platform/config"
)

// writeSlack is how long a handler cut off by the request timeout still has
// to write its error response.
const writeSlack = 5 * time.Second

// New serves handler on cfg.Addr. The write timeout follows the request
// timeout so the timeout middleware fires before the connection is closed.
func New(cfg config.Server, handler http.Handler) *http.Server {
	write := 30 * time.Second
	if cfg.RequestTimeout > 0 {
		write = cfg.RequestTimeout + writeSlack
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      write,
		IdleTimeout:       2 * time.Minute,
	}
}
