package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"anchorebridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

type HTTPConfig struct {
	Addr           string
	UseSSL         bool
	CertFile       string
	KeyFile        string
	AllowedOrigins []string
}

func NewRouter(api *handlers.API, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Origin", "X-Requested-With"},
	}).Handler)

	api.Mount(r)
	return r
}

// Worker_HTTP serves the operator API until ctx is done
func Worker_HTTP(ctx context.Context, cfg HTTPConfig, api *handlers.API) error {
	log.Info().Str("addr", cfg.Addr).Msg("Starting HTTP service")

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(api, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.UseSSL {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return err
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info().Msg("HTTP service started")

	select {
	case err, ok := <-errCh:
		if ok {
			log.Error().Err(err).Msg("error listening")
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP service shutdown error")
		return err
	}
	log.Info().Msg("HTTP service shutdown normal")
	return nil
}
