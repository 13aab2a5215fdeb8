package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
[[language]]
name = "python"
extensions = [".py"]
includes = ["shell"]

[[language]]
name = "shell"
extensions = [".sh"]

[[rule]]
id = "PY-B"
language = "python"
pattern = 'print\('
suggestion = "use logging"
severity = "low"

[[rule]]
id = "PY-A"
language = "python"
pattern = 'time\.sleep\('
suggestion = "avoid blocking sleep"
severity = "HIGH"
fix_example = "BEFORE: time.sleep(1)\nAFTER: await asyncio.sleep(1)"

[[rule]]
id = "SH-1"
language = "shell"
pattern = 'os\.system\('
suggestion = "use subprocess"
`

func mustParse(t *testing.T, src string) *Catalog {
	t.Helper()
	c, err := Parse([]byte(src), FormatTOML, "test")
	require.NoError(t, err)
	return c
}

func TestParseOrdersRulesWithIncludes(t *testing.T) {
	t.Parallel()

	c := mustParse(t, testCatalog)
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"python", "shell"}, c.Languages())

	var ids []string
	for _, r := range c.RulesFor("python") {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"PY-B", "PY-A", "SH-1"}, ids, "own rules in declaration order, then included")

	sh := c.RulesFor("shell")
	require.Len(t, sh, 1)
	assert.Equal(t, "SH-1", sh[0].ID)
	assert.Equal(t, SeverityMedium, sh[0].Severity, "omitted severity defaults to MEDIUM")

	assert.Empty(t, c.RulesFor("cobol"))
}

func TestRulesForReturnsCopy(t *testing.T) {
	t.Parallel()

	c := mustParse(t, testCatalog)
	got := c.RulesFor("python")
	got[0].ID = "mutated"
	assert.Equal(t, "PY-B", c.RulesFor("python")[0].ID)
}

func TestLanguageFor(t *testing.T) {
	t.Parallel()

	c := mustParse(t, testCatalog)
	tests := []struct {
		path string
		want string
	}{
		{"app/main.py", "python"},
		{"APP/MAIN.PY", "python"},
		{"deploy.sh", "shell"},
		{"README.md", ""},
		{"Makefile", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, c.LanguageFor(tt.path))
		})
	}
}

func TestRuleLookupAndMatch(t *testing.T) {
	t.Parallel()

	c := mustParse(t, testCatalog)
	r, ok := c.Rule("PY-A")
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, r.Severity)
	assert.Contains(t, r.FixExample, "asyncio.sleep")

	text, matched, err := r.Match("    time.sleep(5)")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, "time.sleep(", text)

	_, matched, err = r.Match("await asyncio.sleep(5)")
	require.NoError(t, err)
	assert.False(t, matched)

	_, ok = c.Rule("missing")
	assert.False(t, ok)
}

func TestParseFailsClosed(t *testing.T) {
	t.Parallel()

	const lang = "[[language]]\nname = \"python\"\nextensions = [\".py\"]\n"
	tests := []struct {
		name string
		src  string
		want error
	}{
		{
			name: "malformed pattern",
			src:  lang + "[[rule]]\nid = \"X\"\nlanguage = \"python\"\npattern = '(unclosed'\nsuggestion = \"s\"\n",
			want: ErrMalformedPattern,
		},
		{
			name: "duplicate id",
			src: lang +
				"[[rule]]\nid = \"X\"\nlanguage = \"python\"\npattern = 'a'\nsuggestion = \"s\"\n" +
				"[[rule]]\nid = \"X\"\nlanguage = \"python\"\npattern = 'b'\nsuggestion = \"s\"\n",
			want: ErrDuplicateRule,
		},
		{
			name: "unknown severity",
			src:  lang + "[[rule]]\nid = \"X\"\nlanguage = \"python\"\npattern = 'a'\nsuggestion = \"s\"\nseverity = \"urgent\"\n",
			want: ErrInvalidRule,
		},
		{
			name: "missing suggestion",
			src:  lang + "[[rule]]\nid = \"X\"\nlanguage = \"python\"\npattern = 'a'\n",
			want: ErrInvalidRule,
		},
		{
			name: "undeclared language",
			src:  lang + "[[rule]]\nid = \"X\"\nlanguage = \"ruby\"\npattern = 'a'\nsuggestion = \"s\"\n",
			want: ErrUnknownLanguage,
		},
		{
			name: "dangling include",
			src:  "[[language]]\nname = \"python\"\nextensions = [\".py\"]\nincludes = [\"shell\"]\n",
			want: ErrUnknownLanguage,
		},
		{
			name: "include cycle",
			src: "[[language]]\nname = \"a\"\nextensions = [\".a\"]\nincludes = [\"b\"]\n" +
				"[[language]]\nname = \"b\"\nextensions = [\".b\"]\nincludes = [\"a\"]\n",
			want: ErrIncludeCycle,
		},
		{
			name: "extension claimed twice",
			src:  lang + "[[language]]\nname = \"other\"\nextensions = [\".py\"]\n",
			want: ErrInvalidRule,
		},
		{
			name: "unknown field",
			src:  lang + "[[rule]]\nid = \"X\"\nlanguage = \"python\"\npattern = 'a'\nsuggestion = \"s\"\nprio = \"HIGH\"\n",
			want: ErrInvalidRule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := Parse([]byte(tt.src), FormatTOML, "test")
			require.Error(t, err)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tt.want)

			var le *LoadError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, "test", le.Source)
		})
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	src := `
language:
  - name: go
    extensions: [".go"]
rule:
  - id: GO-1
    language: go
    pattern: 'regexp\.Compile\('
    suggestion: hoist the regexp
    severity: medium
`
	c, err := Parse([]byte(src), FormatYAML, "test.yaml")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	assert.Equal(t, "go", c.LanguageFor("x.go"))
}

func TestLoadByExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, c.Source())

	_, err = Load(filepath.Join(dir, "rules.json"))
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 40)
	assert.Equal(t, "embedded", c.Source())

	for _, ext := range []string{".py", ".ts", ".tsx", ".js", ".jsx", ".go", ".rs", ".mojo", ".sh"} {
		assert.NotEmpty(t, c.LanguageFor("file"+ext), ext)
	}

	// Python inherits the shell command rules.
	var hasCLI bool
	for _, r := range c.RulesFor("python") {
		if r.ID == "OPT-CLI-003" {
			hasCLI = true
		}
	}
	assert.True(t, hasCLI)
}

func TestDefaultCatalogBackreferenceRule(t *testing.T) {
	t.Parallel()

	c, err := Default()
	require.NoError(t, err)
	r, ok := c.Rule("OPT-PERF-PY-008")
	require.True(t, ok)

	_, hit, err := r.Match("for key, value in data.items(): total += value")
	require.NoError(t, err)
	assert.True(t, hit, "key unused after the loop header")

	_, hit, err = r.Match("for key, value in data.items(): out[key] = value")
	require.NoError(t, err)
	assert.False(t, hit, "key used in the inline body")
	assert.Equal(t, SeverityMedium, r.Severity)

	lang := c.LanguageFor("a.py")
	require.Equal(t, "python", lang)
	var hits []string
	for _, rule := range c.RulesFor(lang) {
		_, hit, err := rule.Match("for k, v in d.items(): use(v)")
		require.NoError(t, err, rule.ID)
		if hit {
			hits = append(hits, rule.ID)
		}
	}
	assert.Equal(t, []string{"OPT-PERF-PY-008"}, hits)
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Severity{"HIGH": SeverityHigh, "medium": SeverityMedium, "": SeverityMedium, " Low ": SeverityLow} {
		got, err := ParseSeverity(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSeverity("critical")
	assert.Error(t, err)

	b, err := SeverityHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "HIGH", string(b))
}
