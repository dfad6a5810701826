package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/taskq/internal/model"
)

// SeedResult summarizes a seed run.
type SeedResult struct {
	Tasks       int `json:"tasks"`
	Links       int `json:"identity_links"`
	Variables   int `json:"variables"`
	Memberships int `json:"memberships"`
}

func (r SeedResult) String() string {
	return fmt.Sprintf("seeded %d tasks, %d identity links, %d variables, %d memberships",
		r.Tasks, r.Links, r.Variables, r.Memberships)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <dataset.yaml>",
		Short: "Load tasks, links, variables and memberships",
		Long: `Load a YAML dataset into the database.

Example dataset:
  tasks:
    - {id: t1, name: Review invoice, priority: 50, createTime: 2024-03-04T09:00:00Z}
  identityLinks:
    - {taskId: t1, type: candidate, groupId: management}
  variables:
    - {scope: task, scopeId: t1, name: amount, value: {type: long, value: 100}}
  memberships:
    - {userId: kermit, groupId: management}

Example:
  taskq seed --db ./taskq.db ./dataset.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, rootOpts, args[0])
		},
	}
}

func runSeed(cmd *cobra.Command, opts *RootOptions, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open dataset", err)
	}
	defer f.Close()

	ds, err := model.DecodeDataset(f)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read dataset", err)
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.store.Load(cmd.Context(), ds); err != nil {
		return fail("failed to load dataset", err)
	}

	return s.out.Success(SeedResult{
		Tasks:       len(ds.Tasks),
		Links:       len(ds.Links),
		Variables:   len(ds.Variables),
		Memberships: len(ds.Memberships),
	})
}
