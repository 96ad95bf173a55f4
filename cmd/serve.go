package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat page and the HTTP chat API",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "address to listen on (default is :7860)")

	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
}

func serve(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, config, a := setup(ctx)

	cfg := server.Config{}
	if config.Server != nil {
		cfg = *config.Server
	}

	srv := server.New(cfg, a, log)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Run()
	}()

	select {
	case err := <-errs:
		if err != nil {
			log.Fatal("serving chat", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("exiting", zap.String("reason", "got a signal"))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutting down the server", zap.Error(err))
		}
	}
}
