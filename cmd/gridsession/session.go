package main

import (
	"fmt"
	"os"

	"github.com/aretw0/gridsession/internal/cli"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect, find and remove the sessions kept in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the IDs of all stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := connect(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ids, err := app.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Show a session and its attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := connect(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		snap, err := app.InspectSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		return cli.Print(os.Stdout, format, snap)
	},
}

var sessionFindCmd = &cobra.Command{
	Use:   "find <principal>",
	Short: "Show the sessions of a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := connect(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		snaps, err := app.FindSessions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("output")
		return cli.Print(os.Stdout, format, snaps)
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := connect(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		removed, err := app.RemoveSessions(cmd.Context(), args...)
		for _, id := range removed {
			fmt.Printf("Removed session '%s'\n", id)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionFindCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	for _, c := range []*cobra.Command{sessionInspectCmd, sessionFindCmd} {
		c.Flags().StringP("output", "o", cli.FormatAuto, "Output format: auto, json or yaml")
	}
}
