package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var callGetTargetCmd = &cobra.Command{
	Use:   "get_target <id>",
	Short: "Print the full record for one target as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		t, err := a.engine.GetTarget(context.Background(), args[0])
		if err != nil {
			return userTodoErrorf("get_target %s: %v", args[0], err)
		}
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return engineErrorf(err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var callKillCmd = &cobra.Command{
	Use:   "kill <id>...",
	Short: "Kill every listed target.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		if err := a.engine.Kill(context.Background(), args); err != nil {
			return userTodoErrorf("kill: %v", err)
		}
		return nil
	},
}

var callRestartCmd = &cobra.Command{
	Use:   "restart <id>...",
	Short: "Restart every listed target.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		if err := a.engine.Restart(context.Background(), args); err != nil {
			return userTodoErrorf("restart: %v", err)
		}
		return nil
	},
}

var callActivateCmd = &cobra.Command{
	Use:   "activate <id>...",
	Short: "Activate every listed target.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		if err := a.engine.Activate(context.Background(), args); err != nil {
			return userTodoErrorf("activate: %v", err)
		}
		return nil
	},
}

var callGetArtifactCmd = &cobra.Command{
	Use:   "get_artifact <id> <item>",
	Short: "Print a named diagnostic stream (stdout, stderr, log, script, or a backend-specific name).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		out, err := a.engine.GetArtifact(context.Background(), args[0], args[1])
		if err != nil {
			return userTodoErrorf("get_artifact %s %s: %v", args[0], args[1], err)
		}
		_, writeErr := cmd.OutOrStdout().Write(out)
		return writeErr
	},
}
