// Package verify decides whether a patched file may be accepted. The verdict
// is a pure function of the original findings, the patched content, and the
// baseline error counts of the unpatched file: the detector is re-run on the
// patched content and a chain of generic checkers (syntax, external linters)
// must not report more errors than before.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/papapumpkin/optifix/internal/detect"
	"github.com/papapumpkin/optifix/internal/patch"
)

// Reason classifies a rejection. The empty reason means accepted.
type Reason string

// Rejection reasons, as recorded on attempts.
const (
	ReasonNone               Reason = ""
	ReasonNoUniqueMatch      Reason = "no-unique-match"
	ReasonFindingsUnresolved Reason = "findings-unresolved"
	ReasonNewErrors          Reason = "new-errors-introduced"
	ReasonMalformedPatch     Reason = "malformed-patch"
	ReasonServiceUnavailable Reason = "service-unavailable"
)

// Mode selects how many targeted findings must be resolved for acceptance.
type Mode string

const (
	// ModeProgress accepts a patch that strictly reduces the number of
	// targeted findings.
	ModeProgress Mode = "progress"
	// ModeStrict accepts a patch only when no targeted finding remains.
	ModeStrict Mode = "strict"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case ModeProgress, "":
		return ModeProgress, nil
	case ModeStrict:
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown acceptance mode %q (want progress or strict)", s)
	}
}

// Result is the verdict on one patched candidate.
type Result struct {
	Accepted  bool
	Reason    Reason
	Detail    string
	Remaining []detect.Finding // findings still present in the patched content
}

// Accept returns an accepting result.
func Accept(remaining []detect.Finding) Result {
	return Result{Accepted: true, Remaining: remaining}
}

// Reject returns a rejecting result with a reason and human-readable detail.
func Reject(reason Reason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// Checker is a generic error oracle over file content, such as a parser or
// an external linter. It returns one entry per error found. Checkers that do
// not support a file return no errors.
type Checker interface {
	Name() string
	Check(ctx context.Context, path, content string) ([]string, error)
}

// Baseline holds the error counts of the unpatched file, per checker.
type Baseline map[string]int

// Request is the input to Verify.
type Request struct {
	Path     string
	Language string
	Original []detect.Finding // findings the patch was asked to resolve
	Content  string           // unpatched content; empty skips the new-line check
	Patches  []patch.Patch    // the applied patches
	Patched  string           // candidate content after applying the patch
	Baseline Baseline
}

// Verifier re-runs detection and generic checks on patched content.
type Verifier struct {
	detector *detect.Detector
	checkers []Checker
	mode     Mode
	logger   *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithCheckers appends generic error oracles.
func WithCheckers(cs ...Checker) Option {
	return func(v *Verifier) { v.checkers = append(v.checkers, cs...) }
}

// WithMode sets the acceptance mode. The default is ModeProgress.
func WithMode(m Mode) Option {
	return func(v *Verifier) { v.mode = m }
}

// WithLogger sets the logger used for checker failures.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// New returns a Verifier using detector for re-detection.
func New(detector *detect.Detector, opts ...Option) *Verifier {
	v := &Verifier{detector: detector, mode: ModeProgress, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mode returns the acceptance mode.
func (v *Verifier) Mode() Mode { return v.mode }

// Baseline runs every checker on the unpatched content. It is computed once
// per file and passed back in each Request.
func (v *Verifier) Baseline(ctx context.Context, path, content string) (Baseline, error) {
	b := make(Baseline, len(v.checkers))
	for _, c := range v.checkers {
		errs, err := v.runChecker(ctx, c, path, content)
		if err != nil {
			return nil, err
		}
		b[c.Name()] = len(errs)
	}
	return b, nil
}

// Verify judges a patched candidate. The returned error is non-nil only when
// ctx is cancelled; every other outcome is expressed in the Result.
func (v *Verifier) Verify(ctx context.Context, req Request) (Result, error) {
	remaining := v.detector.ScanText(req.Patched, req.Language, req.Path)

	targeted := make(map[string]bool, len(req.Original))
	for _, f := range req.Original {
		targeted[f.RuleID] = true
	}
	stillTargeted, introduced := classify(req, remaining, targeted)

	resolved := len(stillTargeted) < len(req.Original)
	if v.mode == ModeStrict {
		resolved = len(stillTargeted) == 0
	}
	if !resolved {
		r := Reject(ReasonFindingsUnresolved, describeFindings(stillTargeted))
		r.Remaining = remaining
		return r, nil
	}

	if len(introduced) > 0 {
		r := Reject(ReasonNewErrors, "new findings: "+describeFindings(introduced))
		r.Remaining = remaining
		return r, nil
	}

	for _, c := range v.checkers {
		errs, err := v.runChecker(ctx, c, req.Path, req.Patched)
		if err != nil {
			return Result{}, err
		}
		if base := req.Baseline[c.Name()]; len(errs) > base {
			r := Reject(ReasonNewErrors, fmt.Sprintf("%s reports %d error(s), was %d: %s",
				c.Name(), len(errs), base, firstN(errs, 3)))
			r.Remaining = remaining
			return r, nil
		}
	}

	return Accept(remaining), nil
}

// runChecker invokes a checker. Checker infrastructure failures are logged
// and treated as "no errors" so a broken oracle cannot block every patch;
// cancellation is propagated.
func (v *Verifier) runChecker(ctx context.Context, c Checker, path, content string) ([]string, error) {
	errs, err := c.Check(ctx, path, content)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		v.logger.Warn("checker failed", "checker", c.Name(), "path", path, "error", err)
		return nil, nil
	}
	return errs, nil
}

// classify splits remaining findings into those still reporting a targeted
// rule on original or rewritten text, and those the patch introduced. A
// targeted rule firing on a line absent from the unpatched content counts as
// introduced unless a patch rewrote an original finding of that rule into it.
func classify(req Request, remaining []detect.Finding, targeted map[string]bool) (still, introduced []detect.Finding) {
	unchanged := lineCounts(req.Content)
	rewritable := slices.Clone(req.Original)
	for _, f := range remaining {
		code := strings.TrimSpace(f.Code)
		switch {
		case !targeted[f.RuleID]:
			introduced = append(introduced, f)
		case unchanged == nil:
			still = append(still, f)
		case unchanged[code] > 0:
			unchanged[code]--
			still = append(still, f)
		default:
			i := slices.IndexFunc(rewritable, func(g detect.Finding) bool {
				return g.RuleID == f.RuleID && rewrote(req.Patches, strings.TrimSpace(g.Code), code)
			})
			if i < 0 {
				introduced = append(introduced, f)
				continue
			}
			rewritable = slices.Delete(rewritable, i, i+1)
			still = append(still, f)
		}
	}
	return still, introduced
}

// rewrote reports whether one patch replaced text containing from with text
// containing to.
func rewrote(patches []patch.Patch, from, to string) bool {
	if from == "" || to == "" {
		return false
	}
	for _, p := range patches {
		if strings.Contains(p.Search, from) && strings.Contains(p.Replace, to) {
			return true
		}
	}
	return false
}

// lineCounts counts the trimmed lines of content, or returns nil for empty
// content.
func lineCounts(content string) map[string]int {
	if content == "" {
		return nil
	}
	counts := make(map[string]int)
	for _, line := range strings.Split(content, "\n") {
		counts[strings.TrimSpace(line)]++
	}
	return counts
}

// describeFindings renders findings as "RULE@line" pairs.
func describeFindings(fs []detect.Finding) string {
	if len(fs) == 0 {
		return "no progress on targeted findings"
	}
	parts := make([]string, 0, len(fs))
	for _, f := range fs {
		parts = append(parts, fmt.Sprintf("%s@%d", f.RuleID, f.Line))
	}
	return strings.Join(slices.Compact(parts), ", ")
}

func firstN(lines []string, n int) string {
	if len(lines) > n {
		lines = append(slices.Clone(lines[:n]), fmt.Sprintf("(+%d more)", len(lines)-n))
	}
	return strings.Join(lines, "; ")
}
