// Package sandbox provides the isolated script evaluation boundary used by
// the mapping engine for function-backed rules. Scripts run on a separate
// goroutine against a fresh interpreter per invocation, see only their
// explicitly bound inputs plus a small whitelist of pure helpers, and are
// forcibly interrupted when their deadline elapses.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// forbiddenGlobals are interpreter/process-control and code-loading entry
// points that untrusted scripts may attempt to call. They are shadowed with
// a throwing stub so the attempt fails fast instead of succeeding or
// resolving to a host primitive.
var forbiddenGlobals = []string{
	"quit", "exit", "load", "loadWithNewGlobal",
	"readFully", "readLine", "readUrl", "print", "echo",
	"require", "fetch", "XMLHttpRequest",
}

// JavascriptProvider evaluates ECMAScript function bodies under the sandbox
// guarantees. A fresh runtime is created per evaluation, so no state leaks
// between invocations and concurrent evaluations share nothing.
type JavascriptProvider struct {
	logger *slog.Logger
}

// NewJavascriptProvider creates the provider. A nil logger defaults to
// slog.Default().
func NewJavascriptProvider(logger *slog.Logger) *JavascriptProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &JavascriptProvider{logger: logger}
}

type evalOutcome struct {
	value any
	err   error
}

// Eval runs the script body with only the given bindings visible, bounded by
// deadline. The body is treated as a function body; its return value is the
// evaluation result. Any script error, forbidden call, or timeout surfaces
// as a plain error; the engine collapses them into its single mapping
// failure signal.
func (p *JavascriptProvider) Eval(ctx context.Context, body string, bindings map[string]any, deadline time.Duration) (any, error) {
	vm := goja.New()

	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("bind %q: %w", name, err)
		}
	}
	if err := installHelpers(vm); err != nil {
		return nil, err
	}
	if err := shadowForbidden(vm); err != nil {
		return nil, err
	}

	// The worker goroutine cannot be trusted to yield cooperatively, so the
	// deadline is enforced from outside via the interpreter's interrupt,
	// which halts even tight loops at the next VM tick. The interrupted
	// worker always terminates, so it is never leaked.
	timer := time.AfterFunc(deadline, func() {
		vm.Interrupt("deadline exceeded")
	})
	defer timer.Stop()

	outcome := make(chan evalOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcome <- evalOutcome{err: fmt.Errorf("script panic: %v", r)}
			}
		}()
		value, err := vm.RunString("(function () {\n" + body + "\n})()")
		if err != nil {
			outcome <- evalOutcome{err: translateScriptError(err)}
			return
		}
		outcome <- evalOutcome{value: export(value)}
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("context cancelled")
		<-outcome // interrupt guarantees the worker exits
		return nil, fmt.Errorf("script evaluation cancelled: %w", ctx.Err())
	case out := <-outcome:
		if out.err != nil {
			p.logger.Debug("sandboxed script failed", "error", out.err)
			return nil, out.err
		}
		return out.value, nil
	}
}

// translateScriptError normalizes interpreter errors: interrupts become
// timeout errors, thrown values keep their message.
func translateScriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("script exceeded its execution deadline")
	}
	return fmt.Errorf("script error: %w", err)
}

// export converts an interpreter value to a plain Go value.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// installHelpers exposes the whitelisted pure helpers. None of them touch
// I/O, the process, or shared state.
func installHelpers(vm *goja.Runtime) error {
	helpers := map[string]any{
		"lowerCase": strings.ToLower,
		"upperCase": strings.ToUpper,
		"trim":      strings.TrimSpace,
		"matches": func(s, pattern string) bool {
			ok, err := regexp.MatchString(pattern, s)
			return err == nil && ok
		},
		"parseNumber": parseLeadingNumber,
	}
	for name, fn := range helpers {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("install helper %q: %w", name, err)
		}
	}
	return nil
}

// shadowForbidden replaces process-control and code-loading names with a
// stub that throws. The names do not exist in a bare interpreter, but
// shadowing them makes the boundary explicit and survives interpreter
// upgrades that might introduce them.
func shadowForbidden(vm *goja.Runtime) error {
	for _, name := range forbiddenGlobals {
		name := name
		stub := func(goja.FunctionCall) goja.Value {
			panic(vm.ToValue(fmt.Sprintf("%s is not permitted in mapping scripts", name)))
		}
		if err := vm.Set(name, stub); err != nil {
			return fmt.Errorf("shadow %q: %w", name, err)
		}
	}
	return nil
}

// parseLeadingNumber extracts the leading numeric portion of a string, e.g.
// "2322mV" parses as 2322. Returns 0 when the string has no leading number.
func parseLeadingNumber(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || (i == 0 && (r == '-' || r == '+')) {
			end = i + 1
			continue
		}
		break
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return n
}
