package cli

import (
	"github.com/spf13/cobra"

	"github.com/ashureev/agentchat/internal/selfimprove"
)

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change a user's self-improvement settings",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the user's settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			e, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := e.svc.GetSettings(cmd.Context(), a.userID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the user's settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			enabled, _ := cmd.Flags().GetBool("enabled")
			mode, _ := cmd.Flags().GetString("mode")
			interval, _ := cmd.Flags().GetInt("interval")

			e, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			s, err := e.svc.UpdateSettings(cmd.Context(), a.userID, selfimprove.SettingsUpdate{
				Enabled:  enabled,
				Mode:     mode,
				Interval: interval,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), s)
		},
	}
	set.Flags().Bool("enabled", false, "Enable self-improvement")
	set.Flags().String("mode", "manual", "auto, manual or disabled")
	set.Flags().Int("interval", 5, "Prompts between analyses")

	cmd.AddCommand(get, set)
	return cmd
}
