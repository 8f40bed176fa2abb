// Package inspector compares two abstract-machine runs — typically the
// original bash script and its purified POSIX sh translation — field by
// field and reports whether they behaved identically.
package inspector

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/bashrs-dev/bashrs/internal/ast"
	"github.com/bashrs-dev/bashrs/internal/emitter"
	"github.com/bashrs-dev/bashrs/internal/machine"
	"github.com/bashrs-dev/bashrs/internal/parser"
	"github.com/bashrs-dev/bashrs/internal/purifier"
)

// FieldDiff is a human-readable unified diff for one PermissionedState
// field that differed between the two runs.
type FieldDiff struct {
	Field string
	Diff  string
}

// StateDigest is a compact snapshot of the observable state, attached to
// statement annotations so a reader can follow how each side evolved
// without dumping the whole filesystem at every step.
type StateDigest struct {
	Cwd       string
	ExitCode  int
	StdoutLen int
	StderrLen int
	EnvSize   int
	FsSize    int
}

// StmtAnnotation pairs one executed statement with the state digests
// before and after it ran.
type StmtAnnotation struct {
	Statement string
	Pre       StateDigest
	Post      StateDigest
}

// EquivalenceReport is the full comparison result: the verdict surface
// (Equivalent/Diffs), the emitted POSIX text the purified side ran, the
// step-by-step traces both runs recorded, and the per-statement
// annotations for each side.
type EquivalenceReport struct {
	Equivalent bool
	Diffs      []FieldDiff

	EmittedSource string
	OriginalTrace []machine.TraceEntry
	PurifiedTrace []machine.TraceEntry
	OriginalSteps []StmtAnnotation
	PurifiedSteps []StmtAnnotation
}

// VerificationKind is the coarse outcome surfaced to a CLI user.
type VerificationKind int

const (
	Success VerificationKind = iota
	Partial
	Failure
)

func (k VerificationKind) String() string {
	switch k {
	case Success:
		return "success"
	case Partial:
		return "partial"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// VerificationResult is Compare's top-level verdict: Confidence is 1.0 for
// Success, 0 for Failure, and the fraction of matching fields for Partial.
type VerificationResult struct {
	Kind       VerificationKind
	Confidence float64
	Reasons    []string
}

// Compare runs a fielded comparison between two terminal states, treating
// Env, Stdout, Stderr, ExitCode, Cwd, Filesystem, and the process
// identity (euid, egid, groups) as the equivalence surface; Trace is
// informative only and never affects the verdict.
//
// originalErr/purifiedErr carry whatever structured *machine.EvalError
// aborted that side's run, or nil if it completed normally; an eval
// error does not halt the comparison, so the two states are compared
// exactly as far as each side got. Partial is reserved for exactly this
// situation — one or both sides aborted but the state mutated up to
// that point still matched; two runs that both complete are always
// Success or Failure, never Partial.
func Compare(original *machine.PermissionedState, originalErr error, purified *machine.PermissionedState, purifiedErr error) (EquivalenceReport, VerificationResult) {
	var diffs []FieldDiff

	if d := diffText("ExitCode", fmt.Sprint(original.ExitCode), fmt.Sprint(purified.ExitCode)); d != "" {
		diffs = append(diffs, FieldDiff{Field: "ExitCode", Diff: d})
	}
	if d := diffText("Stdout", string(original.Stdout), string(purified.Stdout)); d != "" {
		diffs = append(diffs, FieldDiff{Field: "Stdout", Diff: d})
	}
	if d := diffText("Stderr", string(original.Stderr), string(purified.Stderr)); d != "" {
		diffs = append(diffs, FieldDiff{Field: "Stderr", Diff: d})
	}
	if d := diffText("Cwd", original.Cwd, purified.Cwd); d != "" {
		diffs = append(diffs, FieldDiff{Field: "Cwd", Diff: d})
	}
	if d := diffText("Env", formatEnv(original.Env), formatEnv(purified.Env)); d != "" {
		diffs = append(diffs, FieldDiff{Field: "Env", Diff: d})
	}
	if d := diffText("Filesystem", formatFilesystem(original.Filesystem), formatFilesystem(purified.Filesystem)); d != "" {
		diffs = append(diffs, FieldDiff{Field: "Filesystem", Diff: d})
	}
	if d := diffText("Identity", formatIdentity(original), formatIdentity(purified)); d != "" {
		diffs = append(diffs, FieldDiff{Field: "Identity", Diff: d})
	}

	report := EquivalenceReport{Equivalent: len(diffs) == 0, Diffs: diffs}

	aborted := originalErr != nil || purifiedErr != nil
	if !aborted {
		if report.Equivalent {
			return report, VerificationResult{Kind: Success, Confidence: 1.0}
		}
		return report, VerificationResult{Kind: Failure, Confidence: 0, Reasons: diffReasons(diffs)}
	}

	var reasons []string
	if originalErr != nil {
		reasons = append(reasons, "original aborted: "+originalErr.Error())
	}
	if purifiedErr != nil {
		reasons = append(reasons, "purified aborted: "+purifiedErr.Error())
	}
	if report.Equivalent {
		reasons = append(reasons, "observable state up to the abort matched")
		return report, VerificationResult{Kind: Partial, Confidence: 1.0, Reasons: reasons}
	}
	return report, VerificationResult{Kind: Failure, Confidence: 0, Reasons: append(reasons, diffReasons(diffs)...)}
}

func diffReasons(diffs []FieldDiff) []string {
	var reasons []string
	for _, d := range diffs {
		reasons = append(reasons, d.Field+" diverged")
	}
	return reasons
}

func diffText(field, a, b string) string {
	if a == b {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "original/" + field,
		ToFile:   "purified/" + field,
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("%s differs: %q vs %q", field, a, b)
	}
	return text
}

func formatIdentity(s *machine.PermissionedState) string {
	groups := make([]string, len(s.Groups))
	for i, g := range s.Groups {
		groups[i] = fmt.Sprint(g)
	}
	sort.Strings(groups)
	return fmt.Sprintf("euid=%d egid=%d groups=%s\n", s.EUID, s.EGID, strings.Join(groups, ","))
}

func formatEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s=%s\n", k, env[k])
	}
	return out
}

func formatFilesystem(fs map[string]machine.Node) string {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("%s: %s\n", k, describeNode(fs[k]))
	}
	return out
}

// RunForComparison executes file against state, separating a structured
// shell-visible failure (returned as evalErr, state already reflecting
// it) from a bug escaping the machine itself (returned as bugErr): the
// former never stops a comparison, while the latter must not be papered
// over with a report built on a broken run.
func RunForComparison(state *machine.PermissionedState, file *ast.File) (evalErr error, bugErr error) {
	err := machine.Run(state, file)
	if err == nil {
		return nil, nil
	}
	if _, ok := err.(*machine.EvalError); ok {
		return err, nil
	}
	return nil, err
}

// Inspect is the single-entry equivalence check: purify source, emit the
// POSIX rendering, run the original parse and the re-parsed emission in
// separate fresh states, and compare. The returned report carries the
// emitted text, both traces, and per-statement annotations alongside the
// field diffs.
func Inspect(source []byte, opts purifier.Options) (EquivalenceReport, VerificationResult, error) {
	origFile, err := parser.Parse(source)
	if err != nil {
		return EquivalenceReport{}, VerificationResult{}, err
	}
	purFile, _, err := purifier.Purify(source, opts)
	if err != nil {
		return EquivalenceReport{}, VerificationResult{}, err
	}
	posix, err := emitter.Emit(purFile, emitter.Options{})
	if err != nil {
		return EquivalenceReport{}, VerificationResult{}, err
	}
	reFile, err := parser.Parse([]byte(posix))
	if err != nil {
		return EquivalenceReport{}, VerificationResult{}, fmt.Errorf("emitted output failed to re-parse: %w", err)
	}

	origState := machine.NewState()
	purState := machine.NewState()
	origEvalErr, bugErr := RunForComparison(origState, origFile)
	if bugErr != nil {
		return EquivalenceReport{}, VerificationResult{}, bugErr
	}
	purEvalErr, bugErr := RunForComparison(purState, reFile)
	if bugErr != nil {
		return EquivalenceReport{}, VerificationResult{}, bugErr
	}

	report, verdict := Compare(origState, origEvalErr, purState, purEvalErr)
	report.EmittedSource = posix
	report.OriginalTrace = origState.Trace
	report.PurifiedTrace = purState.Trace
	report.OriginalSteps = annotateStatements(origFile)
	report.PurifiedSteps = annotateStatements(reFile)
	return report, verdict, nil
}

// annotateStatements re-runs file from a fresh default state, one
// top-level statement at a time, digesting the state before and after
// each. It stops where the run stops (exit or a structured failure) so
// the annotation list mirrors what actually executed.
func annotateStatements(file *ast.File) []StmtAnnotation {
	state := machine.NewState()
	it := machine.NewInterp(state)
	var out []StmtAnnotation
	for _, s := range file.Stmts {
		pre := digest(state)
		halted, err := it.Exec(s)
		out = append(out, StmtAnnotation{Statement: describeStmt(s), Pre: pre, Post: digest(state)})
		if halted || err != nil {
			break
		}
	}
	return out
}

func digest(s *machine.PermissionedState) StateDigest {
	return StateDigest{
		Cwd:       s.Cwd,
		ExitCode:  s.ExitCode,
		StdoutLen: len(s.Stdout),
		StderrLen: len(s.Stderr),
		EnvSize:   len(s.Env),
		FsSize:    len(s.Filesystem),
	}
}

func describeStmt(s ast.Stmt) string {
	switch n := s.(type) {
	case *ast.Command:
		if lit, ok := n.Name.(*ast.Literal); ok {
			return "command " + lit.Value
		}
		return "command"
	case *ast.Assignment:
		return "assign " + n.Name
	case *ast.Pipeline:
		return fmt.Sprintf("pipeline of %d", len(n.Commands))
	case *ast.List:
		return "list"
	case *ast.If:
		return "if"
	case *ast.While:
		if n.Until {
			return "until"
		}
		return "while"
	case *ast.For:
		return "for " + n.Var
	case *ast.Case:
		return "case"
	case *ast.Function:
		return "function " + n.Name
	case *ast.Subshell:
		return "subshell"
	case *ast.BraceGroup:
		return "group"
	case *ast.Negated:
		return "! " + describeStmt(n.Command)
	case *ast.Comment:
		return "comment"
	default:
		return reflect.TypeOf(s).String()
	}
}

func describeNode(n machine.Node) string {
	switch v := n.(type) {
	case machine.Directory:
		return fmt.Sprintf("dir mode=%o uid=%d gid=%d", v.Mode, v.UID, v.GID)
	case machine.File:
		return fmt.Sprintf("file mode=%o uid=%d gid=%d size=%d", v.Mode, v.UID, v.GID, len(v.Content))
	default:
		return reflect.TypeOf(n).String()
	}
}
