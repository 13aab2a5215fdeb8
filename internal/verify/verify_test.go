package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/patch"
	"github.com/papapumpkin/optifix/internal/rules"
)

const catalogSrc = `
[[language]]
name = "python"
extensions = [".py"]
comments = ["#"]

[[rule]]
id = "SLEEP"
language = "python"
pattern = 'time\.sleep\('
suggestion = "use asyncio.sleep"

[[rule]]
id = "PRINT"
language = "python"
pattern = '^\s*print\('
suggestion = "use logging"
`

func newDetector(t *testing.T) *detect.Detector {
	t.Helper()
	c, err := rules.Parse([]byte(catalogSrc), rules.FormatTOML, "test")
	require.NoError(t, err)
	return detect.New(c)
}

// stubChecker reports a fixed number of errors for any content containing a
// marker, and can simulate infrastructure failure.
type stubChecker struct {
	name   string
	marker string
	err    error
}

func (s stubChecker) Name() string { return s.name }

func (s stubChecker) Check(_ context.Context, _, content string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for i := 0; i+len(s.marker) <= len(content); i++ {
		if content[i:i+len(s.marker)] == s.marker {
			out = append(out, "bad")
		}
	}
	return out, nil
}

func request(d *detect.Detector, original, patched string) Request {
	return Request{
		Path:     "a.py",
		Language: "python",
		Original: d.Scan("a.py", original),
		Content:  original,
		Patched:  patched,
	}
}

func TestVerifyProgressMode(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	v := New(d)
	original := "time.sleep(1)\ntime.sleep(2)\n"

	res, err := v.Verify(context.Background(), request(d, original, "await asyncio.sleep(1)\ntime.sleep(2)\n"))
	require.NoError(t, err)
	assert.True(t, res.Accepted, "one of two targeted findings resolved")
	assert.Len(t, res.Remaining, 1)

	res, err = v.Verify(context.Background(), request(d, original, original))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonFindingsUnresolved, res.Reason)
	assert.Contains(t, res.Detail, "SLEEP@1")
}

func TestVerifyStrictMode(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	v := New(d, WithMode(ModeStrict))
	original := "time.sleep(1)\ntime.sleep(2)\n"

	res, err := v.Verify(context.Background(), request(d, original, "await asyncio.sleep(1)\ntime.sleep(2)\n"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonFindingsUnresolved, res.Reason)

	res, err = v.Verify(context.Background(), request(d, original, "await asyncio.sleep(1)\nawait asyncio.sleep(2)\n"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Remaining)
}

func TestVerifyRejectsNewFindings(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	v := New(d)

	res, err := v.Verify(context.Background(), request(d, "time.sleep(1)\n", "print('slept')\n"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNewErrors, res.Reason)
	assert.Contains(t, res.Detail, "PRINT@1")
}

func TestVerifyTargetedRuleOnNewLineIsIntroduced(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	v := New(d)
	original := "time.sleep(1)\ntime.sleep(2)\nx = 1\n"
	patched := "await asyncio.sleep(1)\nawait asyncio.sleep(2)\nx = 1\ntime.sleep(5)\n"

	res, err := v.Verify(context.Background(), request(d, original, patched))
	require.NoError(t, err)
	assert.False(t, res.Accepted, "two findings resolved but a new one added")
	assert.Equal(t, ReasonNewErrors, res.Reason)
	assert.Contains(t, res.Detail, "SLEEP@4")

	// A moved but unchanged line is still the original finding.
	res, err = v.Verify(context.Background(), request(d, original, "import asyncio\nawait asyncio.sleep(1)\ntime.sleep(2)\nx = 1\n"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	// A targeted line rewritten by a patch but still failing is unresolved.
	rewritten := request(d, "time.sleep(1)\n", "time.sleep(2)\n")
	rewritten.Patches = []patch.Patch{{Path: "a.py", Search: "time.sleep(1)", Replace: "time.sleep(2)"}}
	res, err = v.Verify(context.Background(), rewritten)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonFindingsUnresolved, res.Reason)

	// Without the unpatched content only counts are compared.
	req := request(d, original, patched)
	req.Content = ""
	res, err = v.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestVerifyComparesCheckerAgainstBaseline(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	checker := stubChecker{name: "stub", marker: "!!"}
	v := New(d, WithCheckers(checker))
	ctx := context.Background()

	original := "time.sleep(1)\nx = 1 !!\n"
	base, err := v.Baseline(ctx, "a.py", original)
	require.NoError(t, err)
	assert.Equal(t, Baseline{"stub": 1}, base)

	req := request(d, original, "await asyncio.sleep(1)\nx = 1 !!\n")
	req.Baseline = base
	res, err := v.Verify(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Accepted, "pre-existing errors do not block acceptance")

	req = request(d, original, "await asyncio.sleep(1) !!\nx = 1 !!\n")
	req.Baseline = base
	res, err = v.Verify(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonNewErrors, res.Reason)
	assert.Contains(t, res.Detail, "stub reports 2 error(s), was 1")
}

func TestVerifyIgnoresBrokenChecker(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	v := New(d, WithCheckers(stubChecker{name: "broken", err: errors.New("linter crashed")}))

	res, err := v.Verify(context.Background(), request(d, "time.sleep(1)\n", "pass\n"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestVerifyCancelled(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	v := New(d, WithCheckers(stubChecker{name: "stub", marker: "!!"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Verify(ctx, request(d, "time.sleep(1)\n", "pass\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeProgress, m)

	m, err = ParseMode("STRICT")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	_, err = ParseMode("lenient")
	assert.Error(t, err)
}
