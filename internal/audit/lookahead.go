package audit

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"time"

	"evalgate/internal/backtest"
	"evalgate/internal/domain"
)

// futureAccessors are call names that read ahead of the current bar.
var futureAccessors = map[string]bool{
	"Lead":      true,
	"Future":    true,
	"Peek":      true,
	"Ahead":     true,
	"LookAhead": true,
}

// shiftCalls take a signed offset; a negative literal reaches forward.
var shiftCalls = map[string]bool{
	"Shift": true,
	"shift": true,
	"Lag":   true,
	"lag":   true,
}

// checkSourceLookAhead walks the strategy's Go source for constructs that
// read bars after the current one: positive index offsets, slices starting
// at a positive offset (bounded or open-ended), negative shifts and future
// accessors. Upper slice bounds are not checked; x[:i+1] is the usual
// inclusive-of-current idiom.
func checkSourceLookAhead(source string) []domain.Finding {
	if strings.TrimSpace(source) == "" {
		return []domain.Finding{{
			Severity: domain.SeverityInfo,
			Category: domain.CategoryLookAhead,
			Message:  "no strategy source supplied; static look-ahead inspection skipped",
		}}
	}

	fset := token.NewFileSet()
	file, parsed, lineOffset, err := parseSource(fset, source)
	if err != nil {
		return []domain.Finding{{
			Severity: domain.SeverityWarning,
			Category: domain.CategoryLookAhead,
			Message:  "strategy source could not be parsed; static look-ahead inspection skipped",
			Evidence: err.Error(),
		}}
	}

	var findings []domain.Finding
	src := []byte(parsed)
	report := func(n ast.Node, msg string) {
		pos := fset.Position(n.Pos())
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityCritical,
			Category: domain.CategoryLookAhead,
			Message:  msg,
			Evidence: fmt.Sprintf("line %d: %s", pos.Line-lineOffset, snippet(fset, src, n)),
		})
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.IndexExpr:
			if forwardOffset(x.Index) {
				report(x, "index reads a later bar")
			}
		case *ast.SliceExpr:
			if forwardOffset(x.Low) {
				report(x, "slice starts at a later bar")
			}
		case *ast.CallExpr:
			name := callName(x.Fun)
			switch {
			case futureAccessors[name]:
				report(x, fmt.Sprintf("call to %s reads future values", name))
			case shiftCalls[name]:
				for _, arg := range x.Args {
					if negativeLiteral(arg) {
						report(x, fmt.Sprintf("%s with a negative offset reads future values", name))
						break
					}
				}
			}
		}
		return true
	})
	return findings
}

// parseSource parses a full Go file, or failing that a bare list of
// statements wrapped in a function. It returns the text actually parsed and
// the number of wrapper lines to subtract from reported line numbers.
func parseSource(fset *token.FileSet, source string) (*ast.File, string, int, error) {
	file, err := parser.ParseFile(fset, "strategy.go", source, parser.SkipObjectResolution)
	if err == nil {
		return file, source, 0, nil
	}
	if strings.HasPrefix(strings.TrimSpace(source), "package ") {
		return nil, "", 0, err
	}
	wrapped := "package strategy\nfunc _() {\n" + source + "\n}\n"
	file, werr := parser.ParseFile(fset, "wrapped.go", wrapped, parser.SkipObjectResolution)
	if werr != nil {
		return nil, "", 0, err
	}
	return file, wrapped, 2, nil
}

// forwardOffset matches expressions of the form x+k or k+x with k a
// positive integer literal.
func forwardOffset(e ast.Expr) bool {
	if e == nil {
		return false
	}
	bin, ok := unparen(e).(*ast.BinaryExpr)
	if !ok || bin.Op != token.ADD {
		return false
	}
	lit, other := positiveLiteral(bin.Y), bin.X
	if !lit {
		lit, other = positiveLiteral(bin.X), bin.Y
	}
	if !lit {
		return false
	}
	_, otherIsLit := unparen(other).(*ast.BasicLit)
	return !otherIsLit
}

func positiveLiteral(e ast.Expr) bool {
	lit, ok := unparen(e).(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return false
	}
	v, err := strconv.ParseInt(lit.Value, 0, 64)
	return err == nil && v > 0
}

func negativeLiteral(e ast.Expr) bool {
	u, ok := unparen(e).(*ast.UnaryExpr)
	return ok && u.Op == token.SUB && positiveLiteral(u.X)
}

func unparen(e ast.Expr) ast.Expr {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			return e
		}
		e = p.X
	}
}

func callName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	}
	return ""
}

// snippet returns the source text of n.
func snippet(fset *token.FileSet, src []byte, n ast.Node) string {
	start, end := fset.Position(n.Pos()).Offset, fset.Position(n.End()).Offset
	if start < 0 || end > len(src) || start >= end {
		return ""
	}
	return string(src[start:end])
}

// checkTradeLookAhead verifies every trade was entered strictly after the
// bar that signalled it, that the signal bar lies in the trade's own test
// slice, and that signal-driven exits fill after their signal bar.
func checkTradeLookAhead(result *backtest.Result) []domain.Finding {
	var findings []domain.Finding
	critical := func(i int, msg string) {
		findings = append(findings, domain.Finding{
			Severity: domain.SeverityCritical,
			Category: domain.CategoryLookAhead,
			Message:  msg,
			Evidence: fmt.Sprintf("trade %d", i),
		})
	}

	for i, tr := range result.Trades {
		if !tr.EntryDate.After(tr.SignalDate) {
			critical(i, fmt.Sprintf("entry %s is not after signal %s",
				tr.EntryDate.Format(time.DateOnly), tr.SignalDate.Format(time.DateOnly)))
		}
		if tr.ExitReason == backtest.ExitSignal && !tr.ExitDate.After(tr.ExitSignalDate) {
			critical(i, fmt.Sprintf("exit %s is not after exit signal %s",
				tr.ExitDate.Format(time.DateOnly), tr.ExitSignalDate.Format(time.DateOnly)))
		}
		if tr.Window < 0 || tr.Window >= len(result.Windows) {
			critical(i, fmt.Sprintf("trade references unknown window %d", tr.Window))
			continue
		}
		w := result.Windows[tr.Window]
		if tr.SignalDate.Before(w.TestStartDate) || tr.SignalDate.After(w.TestEndDate) {
			critical(i, fmt.Sprintf("signal %s lies outside window %d test slice %s..%s",
				tr.SignalDate.Format(time.DateOnly), tr.Window,
				w.TestStartDate.Format(time.DateOnly), w.TestEndDate.Format(time.DateOnly)))
		}
	}
	return findings
}
