package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/papapumpkin/optifix/internal/rules"
)

const catalogSrc = `
[[language]]
name = "python"
extensions = [".py"]
comments = ["#"]
includes = ["shell"]

[[language]]
name = "shell"
extensions = [".sh"]
comments = ["#"]

[[language]]
name = "rust"
extensions = [".rs"]
comments = ["//"]

[[rule]]
id = "PY-SLEEP"
language = "python"
pattern = 'time\.sleep\('
suggestion = "use asyncio.sleep"
severity = "MEDIUM"

[[rule]]
id = "PY-PRINT"
language = "python"
pattern = '^\s*print\('
suggestion = "use logging"
severity = "LOW"

[[rule]]
id = "CLI-SYSTEM"
language = "shell"
pattern = 'os\.system\('
suggestion = "use subprocess"
severity = "HIGH"

[[rule]]
id = "RS-INLINE"
language = "rust"
pattern = '#\[inline\]'
suggestion = "profile first"
severity = "LOW"
`

func testDetector(t *testing.T) *Detector {
	t.Helper()
	c, err := rules.Parse([]byte(catalogSrc), rules.FormatTOML, "test")
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return New(c, WithWorkers(2))
}

func TestScanOrdersByLineThenRule(t *testing.T) {
	t.Parallel()

	d := testDetector(t)
	content := "import time\n" +
		"print(os.system('ls')); time.sleep(1)\n" +
		"# time.sleep(2) in a comment\n" +
		"time.sleep(3)\r\n"

	got := d.Scan("app.py", content)
	type key struct {
		line int
		rule string
	}
	var keys []key
	for _, f := range got {
		keys = append(keys, key{f.Line, f.RuleID})
	}
	want := []key{
		{2, "CLI-SYSTEM"},
		{2, "PY-PRINT"},
		{2, "PY-SLEEP"},
		{4, "PY-SLEEP"},
	}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("findings = %v, want %v", keys, want)
	}

	f := got[3]
	if f.Path != "app.py" || f.Text != "time.sleep(" || f.Code != "time.sleep(3)" {
		t.Errorf("unexpected finding fields: %+v", f)
	}
	if f.Severity != rules.SeverityMedium || f.Suggestion != "use asyncio.sleep" {
		t.Errorf("finding did not inherit rule metadata: %+v", f)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	t.Parallel()

	d := testDetector(t)
	content := "time.sleep(1)\nprint(1)\nos.system('x')\n"
	first := d.Scan("a.py", content)
	for i := 0; i < 10; i++ {
		if again := d.Scan("a.py", content); !reflect.DeepEqual(first, again) {
			t.Fatalf("scan %d differs: %v vs %v", i, again, first)
		}
	}
}

func TestScanDefaultCatalogItemsLoop(t *testing.T) {
	t.Parallel()

	cat, err := rules.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	got := New(cat).Scan("a.py", "for k, v in d.items(): use(v)\n")
	if len(got) != 1 {
		t.Fatalf("findings = %+v, want exactly one", got)
	}
	if f := got[0]; f.RuleID != "OPT-PERF-PY-008" || f.Line != 1 || f.Severity != rules.SeverityMedium {
		t.Errorf("finding = %s line %d %s", f.RuleID, f.Line, f.Severity)
	}
}

func TestScanUnsupportedAndEmpty(t *testing.T) {
	t.Parallel()

	d := testDetector(t)
	tests := []struct {
		name    string
		path    string
		content string
	}{
		{"unsupported extension", "notes.md", "time.sleep(1)"},
		{"no extension", "Makefile", "time.sleep(1)"},
		{"empty content", "a.py", ""},
		{"clean content", "a.py", "import asyncio\nawait asyncio.sleep(1)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Scan(tt.path, tt.content)
			if got == nil {
				t.Fatal("Scan returned nil, want empty slice")
			}
			if len(got) != 0 {
				t.Errorf("Scan = %v, want none", got)
			}
		})
	}
}

func TestScanRespectsLanguageCommentPrefixes(t *testing.T) {
	t.Parallel()

	d := testDetector(t)
	got := d.Scan("lib.rs", "#[inline]\nfn f() {}\n// #[inline]\n")
	if len(got) != 1 || got[0].Line != 1 || got[0].RuleID != "RS-INLINE" {
		t.Errorf("Scan = %+v, want one RS-INLINE finding on line 1", got)
	}
}

func TestScanFilesSkipsUnreadable(t *testing.T) {
	t.Parallel()

	d := testDetector(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "b.py")
	clean := filepath.Join(dir, "a.py")
	binary := filepath.Join(dir, "c.py")
	missing := filepath.Join(dir, "missing.py")
	writeFile(t, good, "time.sleep(1)\n")
	writeFile(t, clean, "x = 1\n")
	if err := os.WriteFile(binary, []byte{0xff, 0xfe, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := d.ScanFiles(context.Background(), []string{good, missing, clean, binary})
	if err != nil {
		t.Fatalf("ScanFiles: %v", err)
	}
	if len(report.Files) != 2 {
		t.Fatalf("scanned %d files, want 2", len(report.Files))
	}
	if report.Files[0].Path != clean || report.Files[1].Path != good {
		t.Errorf("files not sorted by path: %v, %v", report.Files[0].Path, report.Files[1].Path)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("skipped = %v, want missing and binary", report.Skipped)
	}
	if got := report.WithFindings(); !reflect.DeepEqual(got, []string{good}) {
		t.Errorf("WithFindings = %v", got)
	}
	if s := report.Summary(); s[rules.SeverityMedium] != 1 || s[rules.SeverityHigh] != 0 {
		t.Errorf("Summary = %v", s)
	}
}

func TestScanFilesCancelled(t *testing.T) {
	t.Parallel()

	d := testDetector(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "a.py")
	writeFile(t, p, "time.sleep(1)\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.ScanFiles(ctx, []string{p}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestReportBySeverity(t *testing.T) {
	t.Parallel()

	r := &Report{Files: []FileReport{{
		Path: "a.py",
		Findings: []Finding{
			{RuleID: "L", Line: 1, Severity: rules.SeverityLow},
			{RuleID: "H", Line: 2, Severity: rules.SeverityHigh},
			{RuleID: "M", Line: 3, Severity: rules.SeverityMedium},
		},
	}}}
	var ids []string
	for _, f := range r.BySeverity() {
		ids = append(ids, f.RuleID)
	}
	if !reflect.DeepEqual(ids, []string{"H", "M", "L"}) {
		t.Errorf("BySeverity = %v", ids)
	}
}

func TestRuleIDs(t *testing.T) {
	t.Parallel()

	got := RuleIDs([]Finding{{RuleID: "B"}, {RuleID: "A"}, {RuleID: "B"}})
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("RuleIDs = %v", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
