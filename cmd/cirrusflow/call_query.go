package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var callQueryCmd = &cobra.Command{
	Use:   "query <filter-expression>",
	Short: "Evaluate an s-expression filter against every stored target.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return engineErrorf(err)
		}
		summaries, err := a.engine.Query(context.Background(), args[0])
		if err != nil {
			return userTodoErrorf("query: %v", err)
		}
		for _, s := range summaries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.State, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}
