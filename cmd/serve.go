package cmd

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reportpilot/handlers"
)

var interactionTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.watchRules(ctx)
		go a.core.RunJanitor(ctx)

		h := handlers.New(a.core, interactionTimeout)
		srv := &http.Server{
			Addr:    ":" + a.cfg.Port,
			Handler: h.Router(),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("[SERVER] Shutdown failed: %v", err)
			}
		}()

		log.Printf("Server starting on port %s", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Printf("[SERVER] Stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().DurationVar(&interactionTimeout, "interaction-timeout", 5*time.Minute, "upper bound for one interaction")
}
