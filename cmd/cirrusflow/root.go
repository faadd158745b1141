package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cirrusflow/internal/api"
	"cirrusflow/internal/config"
	"cirrusflow/internal/target"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cirrusflow",
	Short:         "Drive a cirrusflow engine store: inspect, submit work, and step the scheduler loop.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the store location and the active, passive and finished target counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "db_root: %s\n", a.cfg.DBRoot)
		fmt.Fprintf(cmd.OutOrStdout(), "active: %d\n", len(a.store.ActiveIDs()))
		fmt.Fprintf(cmd.OutOrStdout(), "passive: %d\n", len(a.store.PassiveIDs()))
		fmt.Fprintf(cmd.OutOrStdout(), "finished: %d\n", len(a.store.FinishedIDs()))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler: step (one tick) or loop (repeat forever, pausing when idle).",
}

var runStepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run exactly one tick and exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		if err := a.engine.Tick(context.Background()); err != nil {
			return engineErrorf(err)
		}
		return nil
	},
}

var idleDelay time.Duration

var runLoopCmd = &cobra.Command{
	Use:   "loop",
	Short: "Repeat step with an idle delay, forever (until killed).",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		ctx := context.Background()

		housekeeping, err := a.engine.StartHousekeeping(ctx, a.cfg.HousekeepingCron)
		if err != nil {
			return engineErrorf(fmt.Errorf("start housekeeping: %w", err))
		}
		defer housekeeping.Stop()

		for {
			before := len(a.store.ActiveIDs()) + len(a.store.FinishedIDs())
			if err := a.engine.Tick(ctx); err != nil {
				return engineErrorf(err)
			}
			after := len(a.store.ActiveIDs()) + len(a.store.FinishedIDs())
			if after == before {
				time.Sleep(idleDelay)
			}
		}
	},
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Invoke one Gateway operation: submit, query, get_target, kill, restart, activate, get_artifact.",
}

func loadApp() (*app, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	return boot(cfg)
}

func newTargetSpecFromFlags(name, backendName, kind string, tags, configPairs, dependsOn []string) (api.TargetSpec, error) {
	spec := api.TargetSpec{Name: name, Backend: backendName, Tags: tags, DependsOn: dependsOn}
	switch kind {
	case "", "no_operation":
		spec.BuildKind = target.NoOperation
	case "long_running":
		spec.BuildKind = target.LongRunning
	default:
		return api.TargetSpec{}, argErrorf("unrecognized --kind %q (want no_operation or long_running)", kind)
	}
	if len(configPairs) > 0 {
		spec.Config = make(map[string]any, len(configPairs))
		for _, kv := range configPairs {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return api.TargetSpec{}, argErrorf("--config %q is not key=value", kv)
			}
			spec.Config[k] = v
		}
	}
	return spec, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a cirrusflow.yaml config file (defaults built in if omitted)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &cliError{code: codeArgumentError, err: err}
	})

	runLoopCmd.Flags().DurationVar(&idleDelay, "idle-delay", 2*time.Second, "delay between ticks when the last tick advanced nothing")
	runCmd.AddCommand(runStepCmd, runLoopCmd)

	callCmd.AddCommand(callSubmitCmd, callQueryCmd, callGetTargetCmd, callKillCmd, callRestartCmd, callActivateCmd, callGetArtifactCmd)

	rootCmd.AddCommand(infoCmd, runCmd, callCmd)
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cirrusflow:", err)
	}
	return exitCode(err)
}
