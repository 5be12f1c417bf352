/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libroteca/apiserver/config"
	"github.com/libroteca/apiserver/internal/logging"
	"github.com/libroteca/apiserver/internal/server"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the bookstore API server",
	Long: `Starts the bookstore API server. Usage:

	libroteca server
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadServerConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			os.Exit(1)
		}

		log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid logging configuration: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg, log)
		if err != nil {
			log.WithError(err).Error("failed to start server")
			os.Exit(1)
		}
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("server error")
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
