package main

import (
	"fmt"

	"github.com/aretw0/gridsession/pkg/session"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the store is reachable and report its capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := connect(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		cfg := app.Config
		fmt.Printf("store:                %s\n", cfg.Session.Store)
		if cfg.Session.Store == "redis" {
			fmt.Printf("address:              %s (db %d)\n", cfg.Redis.Address, cfg.Redis.DB)
			fmt.Printf("map:                  %s\n", cfg.Redis.MapName)
		}

		supported, err := app.Capabilities(cmd.Context())
		if err != nil {
			return fmt.Errorf("capability probe failed: %w", err)
		}
		fmt.Printf("server-side updates:  %t (configured %s)\n", supported, cfg.Session.ServerSideUpdates)
		if !supported && cfg.Session.ServerSideUpdates == session.ServerSideOn {
			fmt.Println("warning: scripting is unavailable, updates will fall back to load and replace")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
