package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/fingraph/internal/server"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP chat server",
	Long:  `Starts the fingraph HTTP server with the chat API, a websocket chat page, health and metrics endpoints, and the turn transcript API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = serverPort
		}

		srv := server.New(server.Config{
			Port:     port,
			AllowAll: a.cfg.Server.AllowAllOrigins,
		}, server.Deps{
			Pipeline:    a.pipeline,
			Schema:      a.schema,
			Graph:       a.executor,
			Transcripts: a.transcripts,
		}, a.logger)

		checkCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Graph.QueryTimeout)
		srv.CheckGraph(checkCtx)
		cancel()

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Pipeline.TurnTimeout+5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "fingraph server %s starting on port %d\n", Version, port)
		fmt.Fprintf(os.Stderr, "  Graph:    %s\n", a.cfg.Graph.URI)
		fmt.Fprintf(os.Stderr, "  Model:    %s/%s\n", a.cfg.Provider, a.cfg.Model)
		if a.database != nil {
			fmt.Fprintf(os.Stderr, "  Database: %s\n", a.database.Path())
		}

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
