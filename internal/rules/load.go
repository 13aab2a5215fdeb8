package rules

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// MatchTimeout bounds a single pattern evaluation so a pathological
// backtracking pattern cannot stall a scan.
const MatchTimeout = 250 * time.Millisecond

// Format identifies a catalog definition encoding.
type Format string

// Supported catalog formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

//go:embed default.toml
var defaultDefinition []byte

// definition is the on-disk shape of a catalog file.
type definition struct {
	Languages []languageDef `toml:"language" yaml:"language"`
	Rules     []ruleDef     `toml:"rule" yaml:"rule"`
}

type languageDef struct {
	Name       string   `toml:"name" yaml:"name" validate:"required"`
	Extensions []string `toml:"extensions" yaml:"extensions" validate:"required,min=1,dive,startswith=."`
	Includes   []string `toml:"includes" yaml:"includes"`
	Comments   []string `toml:"comments" yaml:"comments" validate:"dive,required"`
}

type ruleDef struct {
	ID         string `toml:"id" yaml:"id" validate:"required"`
	Language   string `toml:"language" yaml:"language" validate:"required"`
	Pattern    string `toml:"pattern" yaml:"pattern" validate:"required"`
	Suggestion string `toml:"suggestion" yaml:"suggestion" validate:"required"`
	Severity   string `toml:"severity" yaml:"severity" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
	FixExample string `toml:"fix_example" yaml:"fix_example"`
}

// Default returns the embedded built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultDefinition, FormatTOML, "embedded")
}

// Load reads a catalog from path, choosing the decoder by extension
// (.toml, .yaml, .yml). An empty path loads the embedded catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	default:
		return nil, &LoadError{Source: path, Err: fmt.Errorf("%w: unsupported file extension", ErrInvalidRule)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule catalog: %w", err)
	}
	return Parse(data, format, path)
}

// Parse decodes and validates a catalog definition. Loading fails closed: the
// first malformed pattern, duplicate identifier, invalid field or dangling
// language reference aborts the whole load.
func Parse(data []byte, format Format, source string) (*Catalog, error) {
	var def definition
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&def); err != nil {
			return nil, &LoadError{Source: source, Err: fmt.Errorf("%w: %v", ErrInvalidRule, err)}
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
			return nil, &LoadError{Source: source, Err: fmt.Errorf("%w: %v", ErrInvalidRule, err)}
		}
	default:
		return nil, &LoadError{Source: source, Err: fmt.Errorf("%w: unknown format %q", ErrInvalidRule, format)}
	}
	return build(def, source)
}

func build(def definition, source string) (*Catalog, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	c := &Catalog{
		source: source,
		byID:   make(map[string]int, len(def.Rules)),
		byExt:  make(map[string]string),
	}

	for _, ld := range def.Languages {
		if err := v.Struct(ld); err != nil {
			return nil, &LoadError{Source: source, Subject: "language " + ld.Name, Err: validationErr(err)}
		}
		if _, dup := c.Language(ld.Name); dup {
			return nil, &LoadError{Source: source, Subject: "language " + ld.Name, Err: fmt.Errorf("%w: declared twice", ErrInvalidRule)}
		}
		lang := Language{Name: ld.Name, Includes: ld.Includes, Comments: ld.Comments}
		for _, ext := range ld.Extensions {
			ext = strings.ToLower(ext)
			if owner, taken := c.byExt[ext]; taken {
				return nil, &LoadError{Source: source, Subject: "language " + ld.Name,
					Err: fmt.Errorf("%w: extension %s already mapped to %s", ErrInvalidRule, ext, owner)}
			}
			c.byExt[ext] = ld.Name
			lang.Extensions = append(lang.Extensions, ext)
		}
		c.languages = append(c.languages, lang)
	}
	for _, l := range c.languages {
		for _, inc := range l.Includes {
			if _, ok := c.Language(inc); !ok {
				return nil, &LoadError{Source: source, Subject: "language " + l.Name, Err: fmt.Errorf("%w: includes %q", ErrUnknownLanguage, inc)}
			}
		}
	}

	for _, rd := range def.Rules {
		rd.Severity = strings.ToUpper(strings.TrimSpace(rd.Severity))
		if err := v.Struct(rd); err != nil {
			return nil, &LoadError{Source: source, Subject: "rule " + rd.ID, Err: validationErr(err)}
		}
		if _, dup := c.byID[rd.ID]; dup {
			return nil, &LoadError{Source: source, Subject: "rule " + rd.ID, Err: ErrDuplicateRule}
		}
		if _, ok := c.Language(rd.Language); !ok {
			return nil, &LoadError{Source: source, Subject: "rule " + rd.ID, Err: fmt.Errorf("%w: %q", ErrUnknownLanguage, rd.Language)}
		}
		sev, err := ParseSeverity(rd.Severity)
		if err != nil {
			return nil, &LoadError{Source: source, Subject: "rule " + rd.ID, Err: fmt.Errorf("%w: %v", ErrInvalidRule, err)}
		}
		re, err := regexp2.Compile(rd.Pattern, regexp2.None)
		if err != nil {
			return nil, &LoadError{Source: source, Subject: "rule " + rd.ID, Err: fmt.Errorf("%w: %v", ErrMalformedPattern, err)}
		}
		re.MatchTimeout = MatchTimeout

		c.byID[rd.ID] = len(c.rules)
		c.rules = append(c.rules, Rule{
			ID:         rd.ID,
			Language:   rd.Language,
			Expr:       rd.Pattern,
			Suggestion: rd.Suggestion,
			Severity:   sev,
			FixExample: rd.FixExample,
			pattern:    re,
		})
	}

	if err := c.resolve(); err != nil {
		return nil, err
	}
	return c, nil
}

// validationErr flattens validator field errors into one ErrInvalidRule.
func validationErr(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRule, strings.Join(parts, ", "))
}
