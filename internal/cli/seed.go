package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/agentchat/internal/domain"
)

// agentSeed is one entry of a seed file.
type agentSeed struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description"`
	SystemPrompt   string `yaml:"system_prompt"`
	PreferredModel string `yaml:"preferred_model"`
}

func loadSeedFile(path string) ([]*domain.Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seeds []agentSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	agents := make([]*domain.Agent, 0, len(seeds))
	for i, s := range seeds {
		if s.Name == "" || s.SystemPrompt == "" {
			return nil, fmt.Errorf("seed %d: name and system_prompt are required", i)
		}
		agents = append(agents, &domain.Agent{
			Name:           s.Name,
			Description:    s.Description,
			SystemPrompt:   s.SystemPrompt,
			PreferredModel: s.PreferredModel,
			IsDefault:      true,
		})
	}
	return agents, nil
}

func (a *app) seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert shared default agents into an empty database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")

			agents := domain.DefaultAgents()
			if file != "" {
				var err error
				if agents, err = loadSeedFile(file); err != nil {
					return err
				}
			}

			e, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.repo.SeedDefaultAgents(cmd.Context(), agents)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d default agents\n", n)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "YAML file with a list of agents (default: built-in set)")
	return cmd
}

func (a *app) agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents visible to the user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireUser(); err != nil {
				return err
			}
			e, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer e.Close()

			agents, err := e.repo.ListAgents(cmd.Context(), a.userID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), agents)
		},
	}
}
