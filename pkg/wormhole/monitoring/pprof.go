// Package monitoring serves pprof handlers and live index statistics over HTTP.
package monitoring

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/pprof"

	"github.com/sugawarayuuta/sonnet"

	"github.com/CVDpl/go-live-wormhole/internal/common"
	"github.com/CVDpl/go-live-wormhole/pkg/wormhole"
)

// Source is an index whose state can be served.
type Source interface {
	Stats() wormhole.Stats
	Fprint(w io.Writer) error
}

// NewMux returns a mux with the pprof handlers and, when src is not nil,
// /debug/wormhole/stats (JSON) and /debug/wormhole/leaves (text).
func NewMux(src Source, logger common.Logger) *http.ServeMux {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if src == nil {
		return mux
	}

	mux.HandleFunc("/debug/wormhole/stats", func(w http.ResponseWriter, r *http.Request) {
		data, err := sonnet.Marshal(src.Stats())
		if err != nil {
			wormhole.LogError(logger, "encode stats", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
	mux.HandleFunc("/debug/wormhole/leaves", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := src.Fprint(w); err != nil {
			wormhole.LogError(logger, "print leaves", err)
		}
	})
	return mux
}

// StartPprofServer starts an HTTP server with pprof handlers bound to the provided address.
// Example address values: ":6060" or "127.0.0.1:6060".
// It returns the server instance so callers can shut it down when done.
func StartPprofServer(addr string, src Source, logger common.Logger) (*http.Server, error) {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:    ln.Addr().String(),
		Handler: NewMux(src, logger),
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			wormhole.LogError(logger, "pprof server error", err)
		}
	}()
	logger.Info("pprof server started", "addr", srv.Addr)
	return srv, nil
}

// StopPprofServer gracefully shuts down the provided pprof HTTP server.
func StopPprofServer(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
