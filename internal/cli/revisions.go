package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <agent-id>",
		Short: "List an agent's revision proposals, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			e, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.svc.History(cmd.Context(), a.userID, args[0], limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	return cmd
}

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <agent-id>",
		Short: "Analyze an agent's recent conversations and record a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			e, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer e.Close()

			result, err := e.svc.Analyze(cmd.Context(), a.userID, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func (a *app) applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <agent-id> <proposal-id>",
		Short: "Apply a recorded proposal to its agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			e, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			agent, err := e.svc.Apply(cmd.Context(), a.userID, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "applied %s to %s\n", args[1], agent.ID)
			return writeJSON(cmd.OutOrStdout(), agent)
		},
	}
}
