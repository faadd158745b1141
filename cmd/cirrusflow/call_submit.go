package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cirrusflow/internal/api"
)

var (
	submitName      string
	submitBackend   string
	submitKind      string
	submitTags      []string
	submitConfig    []string
	submitDependsOn []string
)

var callSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Create one Passive target.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitName == "" {
			return argErrorf("--name is required")
		}
		spec, err := newTargetSpecFromFlags(submitName, submitBackend, submitKind, submitTags, submitConfig, submitDependsOn)
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		ids, err := a.engine.Submit(context.Background(), []api.TargetSpec{spec})
		if err != nil {
			return userTodoErrorf("submit %s: %v", submitName, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ids[0])
		return nil
	},
}

func init() {
	callSubmitCmd.Flags().StringVar(&submitName, "name", "", "target name")
	callSubmitCmd.Flags().StringVar(&submitBackend, "backend", "", "backend name (process, pbs, lsf, bigquery); empty for a no-op target")
	callSubmitCmd.Flags().StringVar(&submitKind, "kind", "no_operation", "no_operation or long_running")
	callSubmitCmd.Flags().StringSliceVar(&submitTags, "tag", nil, "tag to attach (repeatable)")
	callSubmitCmd.Flags().StringSliceVar(&submitConfig, "config", nil, "backend config key=value (repeatable)")
	callSubmitCmd.Flags().StringSliceVar(&submitDependsOn, "depends-on", nil, "id this target depends on (repeatable)")
}
