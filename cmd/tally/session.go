package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally/pkg/domain"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent estimation sessions",
	Long:  `List, inspect, and remove sessions stored in the configured checkpoint backend.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all known sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		sessions, err := app.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		for _, id := range sessions {
			status := "?"
			if res, err := app.Status(cmd.Context(), id); err == nil {
				status = string(res.Status)
			}
			fmt.Printf("%s\t%s\n", id, status)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Print the latest state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Status(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load session %q: %w", args[0], err)
		}

		data, err := json.MarshalIndent(res.State, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var sessionHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the checkpoint trail of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		history, err := app.History(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to load session %q: %w", args[0], err)
		}

		for _, cp := range history {
			fmt.Printf("%4d  %-22s  %-15s  %s\n",
				cp.Seq,
				cp.StageName,
				domain.GetString(cp.State, domain.KeyStatus, "-"),
				cp.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		hasError := false
		for _, id := range args {
			if err := app.Purge(cmd.Context(), id); err != nil {
				fmt.Fprintf(os.Stderr, "Error removing %q: %v\n", id, err)
				hasError = true
			} else {
				fmt.Printf("Removed session %q\n", id)
			}
		}
		if hasError {
			return fmt.Errorf("some sessions could not be removed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionHistoryCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
