package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geomancer/internal/cli/config"
	"github.com/leapstack-labs/geomancer/internal/tableio"
	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/geomancer"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// inputRelation names the input table in printed queries.
const inputRelation = "input"

// SQLOptions holds options for the sql command.
type SQLOptions struct {
	Spell        SpellOptions
	Input        string
	KeepIndex    bool
	FeaturesOnly bool
}

// NewSQLCommand creates the sql command.
func NewSQLCommand() *cobra.Command {
	opts := &SQLOptions{}

	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Print the query a spell would run",
		Long: `Print the SQL a spell generates for the configured backend without
running it.

The reference table is reflected from the live database. The input table is
shown as "input"; its columns come from --input when given, otherwise only
the geometry column is assumed.`,
		Example: `  geomancer sql --dburl postgres://localhost/osm \
    --spell NumberOf --on amenity:hospital \
    --source-table osm.pois --feature-name num_hospital --within 2500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSQL(cmd, opts)
		},
	}

	opts.Spell.register(cmd)
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Input table file to take columns from")
	cmd.Flags().BoolVar(&opts.KeepIndex, "keep-index", false, "Keep the row key column")
	cmd.Flags().BoolVar(&opts.FeaturesOnly, "features-only", false, "Only select the row key and feature columns")

	return cmd
}

func runSQL(cmd *cobra.Command, opts *SQLOptions) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := config.GetLogger(ctx)

	if cfg.DBURL == "" {
		return errors.New("--dburl is required")
	}
	s, err := buildConfiguredSpell(cfg, &opts.Spell)
	if err != nil {
		return err
	}

	columns := []string{cfg.Column}
	if opts.Input != "" {
		tbl, err := tableio.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		columns = tbl.Columns
	}
	target := sqlexpr.NewTable(inputRelation, append([]string{table.RowKey}, columns...)...)

	b, err := geomancer.GetEngine(ctx, cfg.DBURL, s.Params().Options, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	source, err := b.Reflect(ctx, s.Params().SourceTable)
	if err != nil {
		return err
	}

	planOpts := []geomancer.CastOption{geomancer.WithColumn(cfg.Column)}
	if opts.KeepIndex {
		planOpts = append(planOpts, geomancer.WithKeepIndex())
	}
	if opts.FeaturesOnly {
		planOpts = append(planOpts, geomancer.FeaturesOnly())
	}
	stmt, err := geomancer.Plan(s, b, source, target, planOpts...)
	if err != nil {
		return err
	}
	return printStatement(cmd.OutOrStdout(), b, stmt)
}

func printStatement(w io.Writer, b backend.Backend, stmt sqlexpr.Statement) error {
	query, args, err := sqlexpr.Render(stmt, b.Dialect())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "%s;\n", query)
	for i, arg := range args {
		_, _ = fmt.Fprintf(w, "-- arg %d: %v\n", i+1, arg)
	}
	return nil
}
