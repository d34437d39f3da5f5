package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/geomancer/internal/cli/config"
	"github.com/leapstack-labs/geomancer/internal/tableio"
	"github.com/leapstack-labs/geomancer/pkg/geomancer"
	"github.com/leapstack-labs/geomancer/pkg/spell"
	"github.com/leapstack-labs/geomancer/pkg/spellbook"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// CastOptions holds options for the cast command.
type CastOptions struct {
	Spell        SpellOptions
	Spellbook    string
	Input        string
	Output       string
	KeepIndex    bool
	FeaturesOnly bool
}

// NewCastCommand creates the cast command.
func NewCastCommand() *cobra.Command {
	opts := &CastOptions{}

	cmd := &cobra.Command{
		Use:   "cast",
		Short: "Cast spells onto a table of geometries",
		Long: `Compute geospatial features for every row of an input table.

The input is a CSV, Parquet, JSON or NDJSON file with a WKT geometry column.
Either a single spell is described with flags, or a spellbook file casts
several spells at once. Each spell adds one feature column.`,
		Example: `  # Distance to the nearest embassy, on a SpatiaLite database
  geomancer cast --dburl sqlite:///ph.db --input points.csv \
    --spell DistanceToNearest --on embassy \
    --source-table gis_osm_pois_free_1 --feature-name dist_embassy

  # Every spell of a spellbook, written as JSON
  geomancer cast --dburl duckdb:///ph.duckdb --input points.parquet \
    --spellbook features.yaml --output features.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCast(cmd, opts)
		},
	}

	opts.Spell.register(cmd)
	cmd.Flags().StringVar(&opts.Spellbook, "spellbook", "", "Spellbook file (.json, .yaml)")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Input table file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&opts.KeepIndex, "keep-index", false, "Keep the row key column")
	cmd.Flags().BoolVar(&opts.FeaturesOnly, "features-only", false, "Only output the row key and feature columns")

	_ = cmd.MarkFlagRequired("input")
	cmd.MarkFlagsMutuallyExclusive("spell", "spellbook")
	cmd.MarkFlagsOneRequired("spell", "spellbook")

	return cmd
}

func runCast(cmd *cobra.Command, opts *CastOptions) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := config.GetLogger(ctx)

	tbl, err := tableio.ReadFile(opts.Input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	logger.Debug("read input", slog.String("path", opts.Input), slog.Int("rows", tbl.Len()))

	var (
		sb *spellbook.SpellBook
		s  spell.Spell
	)
	if opts.Spellbook != "" {
		if sb, err = spellbook.ReadFile(opts.Spellbook); err != nil {
			return err
		}
	} else if s, err = buildConfiguredSpell(cfg, &opts.Spell); err != nil {
		return err
	}

	castOpts := []geomancer.CastOption{
		geomancer.WithColumn(cfg.Column),
		geomancer.WithLogger(logger),
	}
	if cfg.DBURL != "" {
		backendOpts, err := cfg.BackendOptions(cfg.DBURL)
		if err != nil {
			return err
		}
		b, err := geomancer.GetEngine(ctx, cfg.DBURL, backendOpts, logger)
		if err != nil {
			return err
		}
		defer func() { _ = b.Close() }()
		castOpts = append(castOpts, geomancer.WithBackend(b))
	}
	if opts.KeepIndex {
		castOpts = append(castOpts, geomancer.WithKeepIndex())
	}
	if opts.FeaturesOnly {
		castOpts = append(castOpts, geomancer.FeaturesOnly())
	}

	start := time.Now()
	var result *table.Table
	if sb != nil {
		logger.Info("casting spellbook", slog.Any("spellbook", sb))
		result, err = castSpellbook(ctx, sb, tbl, opts, castOpts)
	} else {
		logger.Info("casting spell", slog.String("spell", s.Type()), slog.String("feature", s.Params().FeatureName))
		result, err = geomancer.Cast(ctx, s, tbl, castOpts...)
	}
	if err != nil {
		return err
	}
	logger.Info("cast complete", slog.Int("rows", result.Len()), slog.Duration("elapsed", time.Since(start)))

	return writeResult(cmd.OutOrStdout(), opts.Output, cfg.Format, result)
}

// castSpellbook casts sb onto tbl, applying --keep-index and
// --features-only to the merged table.
func castSpellbook(ctx context.Context, sb *spellbook.SpellBook, tbl *table.Table, opts *CastOptions, castOpts []geomancer.CastOption) (*table.Table, error) {
	if opts.KeepIndex || opts.FeaturesOnly {
		tbl = tbl.WithRowKey()
	}
	result, err := sb.Cast(ctx, tbl, castOpts...)
	if err != nil || !opts.FeaturesOnly {
		return result, err
	}

	columns := []string{table.RowKey}
	for _, s := range sb.Spells {
		columns = append(columns, s.Params().FeatureName)
	}
	return result.Select(columns...)
}
