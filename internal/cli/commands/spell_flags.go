package commands

import (
	"errors"

	"github.com/spf13/cobra"

	cliconfig "github.com/leapstack-labs/geomancer/internal/cli/config"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/spell"
	"github.com/leapstack-labs/geomancer/pkg/spellbook"
)

// SpellOptions describes a single spell given on the command line.
type SpellOptions struct {
	Type        string
	On          string
	SourceTable string
	FeatureName string
	SourceID    string
	Within      float64
}

func (o *SpellOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Type, "spell", "", "Spell type (see 'geomancer spells')")
	cmd.Flags().StringVar(&o.On, "on", "", "Feature to match, as value or column:value")
	cmd.Flags().StringVar(&o.SourceTable, "source-table", "", "Reference table holding the features")
	cmd.Flags().StringVar(&o.FeatureName, "feature-name", "", "Name of the output feature column")
	cmd.Flags().StringVar(&o.SourceID, "source-id", spell.DefaultSourceID, "Identifier column of the reference table")
	cmd.Flags().Float64Var(&o.Within, "within", spell.DefaultWithin, "Search radius in metres")

	_ = cmd.RegisterFlagCompletionFunc("spell", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return spellbook.Types(), cobra.ShellCompDirectiveNoFileComp
	})
}

// build constructs the spell through the registry. opts may be nil.
func (o *SpellOptions) build(dburl string, opts config.Options) (spell.Spell, error) {
	if o.Type == "" {
		return nil, errors.New("--spell is required")
	}
	if o.On == "" {
		return nil, errors.New("--on is required")
	}
	ctor, err := spellbook.Lookup(o.Type, "")
	if err != nil {
		return nil, err
	}
	return ctor(o.On,
		spell.WithSourceTable(o.SourceTable),
		spell.WithFeatureName(o.FeatureName),
		spell.WithSourceID(o.SourceID),
		spell.WithWithin(o.Within),
		spell.WithDBURL(dburl),
		spell.WithOptions(opts))
}

// buildConfiguredSpell builds the spell with the backend options configured
// for the CLI database URL.
func buildConfiguredSpell(cfg *cliconfig.Config, o *SpellOptions) (spell.Spell, error) {
	var opts config.Options
	if cfg.DBURL != "" {
		var err error
		opts, err = cfg.BackendOptions(cfg.DBURL)
		if err != nil {
			return nil, err
		}
	}
	return o.build(cfg.DBURL, opts)
}
