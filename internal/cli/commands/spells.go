package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geomancer/internal/cli/config"
	"github.com/leapstack-labs/geomancer/internal/tableio"
	"github.com/leapstack-labs/geomancer/pkg/spellbook"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// NewSpellsCommand creates the spells command.
func NewSpellsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "spells",
		Short: "List available spell types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := table.New("type", "module")
			for _, name := range spellbook.Types() {
				if err := out.Append(name, spellbook.ModuleOf(name)); err != nil {
					return err
				}
			}
			cfg := config.FromContext(cmd.Context())
			w := cmd.OutOrStdout()
			return tableio.Write(w, out, resolveFormat(cfg.Format, w))
		},
	}
}
