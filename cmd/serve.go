package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rentmail/handlers/api"
	"rentmail/relay"
	"rentmail/server"
	"rentmail/utils"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long:  "Serves the thread API and the live chat streams until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		// Fail fast on a corrupt document instead of on the first request
		if _, err := store.ReadAll(cmd.Context()); err != nil {
			return fmt.Errorf("thread store unreadable: %w", err)
		}

		mailer := api.NewSMTPClient(cfg.SMTP)
		if err := mailer.Ready(); err != nil {
			utils.Log.Warn("%v; /api/send-mail will fail", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hub := relay.New(utils.Log)
		app := server.New(ctx, cfg, server.Deps{
			Store:  store,
			Relay:  hub,
			Mailer: mailer,
		})

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			utils.Log.Info("Starting server on %s (store: %s %s)", addr, cfg.Storage.Driver, cfg.Storage.Path)
			return app.Listen(addr)
		})
		eg.Go(func() error {
			<-ctx.Done()
			utils.Log.Info("Shutting down gracefully...")

			// Streams end first so the listener has no open requests to wait on
			hub.Shutdown()
			return app.ShutdownWithTimeout(shutdownTimeout)
		})

		if err := eg.Wait(); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	},
}
