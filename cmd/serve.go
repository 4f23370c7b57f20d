package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jusbridge/casesync/internal/webhook"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

var servePort int
var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and polling server",
	Long:  "Serves the Judit callback endpoint plus the request and job status queries. With --worker, also runs the background queue worker in-process.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}

		if serveWithWorker {
			go func() {
				if err := env.Worker.Run(ctx); err != nil {
					zap.L().Error("worker stopped", zap.Error(err))
				}
			}()
		}

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Bool("worker", serveWithWorker),
		)
		srv := &http.Server{Handler: webhook.NewRouter(env.Store, env.Ingestor)}
		return serveUntilShutdown(ctx, srv, ln)
	},
}

// serveUntilShutdown serves on ln until ctx is cancelled, then drains
// in-flight requests on a fresh timeout context; the cancelled signal context
// would abort the drain immediately.
func serveUntilShutdown(ctx context.Context, srv *http.Server, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Error("server shutdown failed", zap.Error(err))
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server serve")
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "worker", false, "run the queue worker in-process")
	rootCmd.AddCommand(serveCmd)
}
