/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/libroteca/apiserver/config"
	"github.com/libroteca/apiserver/internal/db"
	"github.com/libroteca/apiserver/internal/logging"
	"github.com/libroteca/apiserver/internal/services"
	"github.com/spf13/cobra"
)

// restockCmd represents the restock command
var restockCmd = &cobra.Command{
	Use:   "restock",
	Short: "Randomize stock and prices for every book",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer conn.Close()

		n, err := services.NewCatalogService(conn, services.SQLRepositories{}, log).Restock(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restocked %d books\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restockCmd)
}
