package httpserver

import (
	"net/http"
	"time"
)

// The audit export endpoint streams a tenant's full event history in a single
// response, so the write timeout is configurable and sits well above the read
// side; header reads stay tight to shed slow-loris clients.
const (
	readHeaderTimeout   = 5 * time.Second
	readTimeout         = 15 * time.Second
	defaultWriteTimeout = 60 * time.Second
	idleTimeout         = 2 * time.Minute
)

// New builds the API server. A non-positive writeTimeout falls back to the
// default.
func New(addr string, handler http.Handler, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
}
