package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessiongate/accesskey"
	"github.com/jmcleod/sessiongate/api"
	"github.com/jmcleod/sessiongate/auth"
	"github.com/jmcleod/sessiongate/codec"
	"github.com/jmcleod/sessiongate/password"
	"github.com/jmcleod/sessiongate/session"
)

var addr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer memguard.Purge()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.HTTP.Addr = addr
		}
		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var cleanup closer
		defer cleanup.Close()
		pool := &postgresPool{cfg: cfg.Identity, c: &cleanup}

		kv, err := openKV(ctx, cfg.KV, &cleanup)
		if err != nil {
			return err
		}
		users, err := openIdentity(ctx, cfg.Identity, pool)
		if err != nil {
			return err
		}
		keyRepo, err := openAccessKeys(ctx, cfg.AccessKeys, pool, &cleanup, logger)
		if err != nil {
			return err
		}
		hasher, err := password.New(cfg.Password.Algorithm, cfg.Password.BcryptCost)
		if err != nil {
			return err
		}
		c, err := codec.New(cfg.Encryption.Key, cfg.Encryption.Algorithm)
		if err != nil {
			return fmt.Errorf("failed to initialize payload codec: %w", err)
		}

		sessions := session.NewStore(kv, session.WithLogger(logger))
		coord := auth.NewCoordinator(users, hasher, sessions, cfg.SessionTTL(), logger)
		keys := accesskey.NewValidator(keyRepo, accesskey.WithLogger(logger))
		defer keys.Wait()

		a := api.New(coord, keys, c,
			api.WithLogger(logger),
			api.WithTimeout(cfg.Gates.Timeout),
			api.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
			api.WithAuditWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookHeader),
			api.WithAlertFunc(func(evt api.AlertEvent) {
				logger.Warn("security alert",
					"type", evt.Type,
					"count", evt.Count,
					"threshold", evt.Threshold,
					"message", evt.Message,
				)
			}),
		)
		defer a.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(api.RequestLogger(logger))
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api", a.Router())

		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           r,
			ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       4 * cfg.HTTP.ReadTimeout,
		}
		useTLS := cfg.HTTP.TLSCert != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("server starting",
			"addr", cfg.HTTP.Addr,
			"tls", useTLS,
			"kv_backend", cfg.KV.Backend,
			"identity_backend", cfg.Identity.Backend,
			"access_key_backend", cfg.AccessKeys.Backend,
			"session_ttl", cfg.SessionTTL(),
		)
		if !useTLS {
			logger.Warn("serving plain HTTP; terminate TLS in front of this process")
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
}
