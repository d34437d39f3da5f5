package spellbook

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/spell"
)

// Format is a spellbook document encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. Anything that is
// not .yaml or .yml is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type document struct {
	Column      string     `json:"column" yaml:"column"`
	Author      string     `json:"author,omitempty" yaml:"author,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Spells      []spellDoc `json:"spells" yaml:"spells"`
}

type spellDoc struct {
	Type         string         `json:"type" yaml:"type"`
	Module       string         `json:"module" yaml:"module"`
	On           string         `json:"on,omitempty" yaml:"on,omitempty"`
	SourceColumn string         `json:"source_column" yaml:"source_column"`
	SourceFilter string         `json:"source_filter" yaml:"source_filter"`
	SourceTable  string         `json:"source_table" yaml:"source_table"`
	FeatureName  string         `json:"feature_name" yaml:"feature_name"`
	SourceID     string         `json:"source_id" yaml:"source_id"`
	Within       float64        `json:"within" yaml:"within"`
	DBURL        string         `json:"dburl,omitempty" yaml:"dburl,omitempty"`
	Options      map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// optionsBackendKey names the backend inside an exported options map.
const optionsBackendKey = "backend"

func (sb *SpellBook) document() (document, error) {
	doc := document{
		Column:      sb.Column,
		Author:      sb.Author,
		Description: sb.Description,
		Spells:      make([]spellDoc, len(sb.Spells)),
	}
	for i, s := range sb.Spells {
		p := s.Params()
		opts, err := encodeOptions(p.Options)
		if err != nil {
			return document{}, err
		}
		doc.Spells[i] = spellDoc{
			Type:         s.Type(),
			Module:       ModuleOf(s.Type()),
			On:           p.On,
			SourceColumn: p.SourceColumn,
			SourceFilter: p.SourceFilter,
			SourceTable:  p.SourceTable,
			FeatureName:  p.FeatureName,
			SourceID:     p.SourceID,
			Within:       p.Within,
			DBURL:        p.DBURL,
			Options:      opts,
		}
	}
	return doc, nil
}

// encodeOptions flattens backend options into a map keyed like the config
// file, with durations as strings.
func encodeOptions(opts config.Options) (map[string]any, error) {
	if opts == nil {
		return nil, nil
	}
	out := make(map[string]any)
	if err := mapstructure.Decode(opts, &out); err != nil {
		return nil, fmt.Errorf("failed to encode %s options: %w", opts.Backend(), err)
	}
	for k, v := range out {
		if d, ok := v.(time.Duration); ok {
			out[k] = d.String()
		}
	}
	out[optionsBackendKey] = opts.Backend()
	return out, nil
}

func decodeOptions(m map[string]any) (config.Options, error) {
	if len(m) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(m))
	for k, v := range m {
		params[k] = v
	}
	name, _ := params[optionsBackendKey].(string)
	delete(params, optionsBackendKey)
	return config.ForBackend(name, params)
}

// build reconstructs the spell a document entry describes.
func (d spellDoc) build() (spell.Spell, error) {
	ctor, err := Lookup(d.Type, d.Module)
	if err != nil {
		return nil, err
	}
	opts, err := decodeOptions(d.Options)
	if err != nil {
		return nil, fmt.Errorf("spell %s: %w", d.FeatureName, err)
	}

	on := d.On
	if on == "" {
		if on, err = joinFilter(d.SourceColumn, d.SourceFilter); err != nil {
			return nil, fmt.Errorf("spell %s: %w", d.FeatureName, err)
		}
	}
	spellOpts := []spell.Option{
		spell.WithSourceTable(d.SourceTable),
		spell.WithFeatureName(d.FeatureName),
		spell.WithDBURL(d.DBURL),
		spell.WithOptions(opts),
	}
	if d.SourceID != "" {
		spellOpts = append(spellOpts, spell.WithSourceID(d.SourceID))
	}
	if d.Within != 0 {
		spellOpts = append(spellOpts, spell.WithWithin(d.Within))
	}
	return ctor(on, spellOpts...)
}

// Export writes the spellbook as indented JSON.
func (sb *SpellBook) Export(w io.Writer) error {
	return sb.Encode(w, FormatJSON)
}

// Encode writes the spellbook in the given format.
func (sb *SpellBook) Encode(w io.Writer, format Format) error {
	doc, err := sb.document()
	if err != nil {
		return err
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported spellbook format %q", format)
	}
}

// ToJSON writes the spellbook to a JSON file.
func (sb *SpellBook) ToJSON(path string) error {
	return sb.writeFile(path, FormatJSON)
}

// ToYAML writes the spellbook to a YAML file.
func (sb *SpellBook) ToYAML(path string) error {
	return sb.writeFile(path, FormatYAML)
}

func (sb *SpellBook) writeFile(path string, format Format) (err error) {
	f, err := os.Create(path) //nolint:gosec // path is caller supplied
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return sb.Encode(f, format)
}

// Load reads a spellbook document. Unknown spell types fail with
// *UnknownSpellError.
func Load(r io.Reader, format Format) (*SpellBook, error) {
	var doc document
	switch format {
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse spellbook JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse spellbook YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported spellbook format %q", format)
	}

	spells := make([]spell.Spell, len(doc.Spells))
	for i, d := range doc.Spells {
		s, err := d.build()
		if err != nil {
			return nil, fmt.Errorf("spell %d: %w", i, err)
		}
		spells[i] = s
	}

	opts := []Option{WithAuthor(doc.Author), WithDescription(doc.Description)}
	if doc.Column != "" {
		opts = append(opts, WithColumn(doc.Column))
	}
	return New(spells, opts...)
}

// ReadFile loads a spellbook from a .json, .yaml or .yml file.
func ReadFile(path string) (*SpellBook, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller supplied
	if err != nil {
		return nil, fmt.Errorf("failed to open spellbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f, FormatFromPath(path))
}

// joinFilter rebuilds the on filter of a document that stores the source
// column and value separately. The result must split back into the same
// pair; a value holding ":" only survives on the default column.
func joinFilter(column, value string) (string, error) {
	if column == "" {
		column = spell.DefaultSourceColumn
	}
	for _, on := range []string{column + ":" + value, value} {
		if c, v := spell.ExtractColumns(on); c == column && v == value {
			return on, nil
		}
	}
	return "", fmt.Errorf("%w: filter %q on column %q cannot be written as column:value",
		config.ErrConfiguration, value, column)
}
