package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// DefaultScriptDeadline bounds a single script evaluation's wall-clock time.
const DefaultScriptDeadline = 2 * time.Second

// ScriptEvalProvider evaluates a script body against explicitly bound input
// values, within the given deadline. Implementations must guarantee the
// boundaries described in the sandbox package; the engine treats any
// returned error as a mapping failure.
type ScriptEvalProvider interface {
	Eval(ctx context.Context, body string, bindings map[string]any, deadline time.Duration) (any, error)
}

// Engine maps decoded device payloads into typed output documents according
// to one specification. The specification is read-only after Build, so a
// single engine is safe for concurrent MapSource calls.
type Engine struct {
	spec     *Spec
	provider ScriptEvalProvider
	deadline time.Duration
	logger   *slog.Logger
}

// Builder assembles an Engine.
type Builder struct {
	spec     *Spec
	provider ScriptEvalProvider
	deadline time.Duration
	logger   *slog.Logger
}

// NewBuilder creates an engine builder.
func NewBuilder() *Builder {
	return &Builder{deadline: DefaultScriptDeadline}
}

// WithSpecification sets the mapping specification.
func (b *Builder) WithSpecification(spec *Spec) *Builder {
	b.spec = spec
	return b
}

// RegisterScriptEvalProvider sets the sandbox provider used for
// function-backed rules.
func (b *Builder) RegisterScriptEvalProvider(p ScriptEvalProvider) *Builder {
	b.provider = p
	return b
}

// WithScriptDeadline overrides the per-script evaluation deadline.
func (b *Builder) WithScriptDeadline(d time.Duration) *Builder {
	b.deadline = d
	return b
}

// WithLogger sets the engine logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the specification's internal references and returns the
// engine. Validation against actual input cannot happen here since the
// input is unknown until MapSource.
func (b *Builder) Build() (*Engine, error) {
	if b.spec == nil {
		return nil, fmt.Errorf("%w: no specification", ErrInvalidSpec)
	}
	if err := b.spec.validate(); err != nil {
		return nil, err
	}
	if b.provider == nil && b.spec.hasFunctionRules() {
		return nil, fmt.Errorf("%w: specification uses script functions but no eval provider is registered",
			ErrInvalidSpec)
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		spec:     b.spec,
		provider: b.provider,
		deadline: b.deadline,
		logger:   logger,
	}, nil
}

func (s *Spec) hasFunctionRules() bool {
	for _, block := range s.Blocks {
		for _, section := range [][]Property{block.Status, block.Configuration} {
			for _, prop := range section {
				if prop.Rule.Kind == RuleFunction {
					return true
				}
			}
		}
	}
	return false
}

// MapSource evaluates the specification against a decoded input payload and
// assembles the typed output tree. The invocation is atomic: any script
// failure, sandbox violation, or timeout fails the whole mapping with
// ErrMapping and no partial result is returned.
func (e *Engine) MapSource(ctx context.Context, input map[string]any) (*Result, error) {
	result := newResult(e.spec.Infomodel)

	for i := range e.spec.Blocks {
		block := &e.spec.Blocks[i]

		// A block is present only when at least one of its referenced input
		// paths resolves in the payload; absent telemetry omits the whole
		// section rather than defaulting it. Blocks that reference no input
		// at all (pure constants) are always present.
		if paths := block.inputPaths(); len(paths) > 0 && !anyPathPresent(input, paths) {
			continue
		}

		value := newBlockValue(block.Name)
		for _, prop := range block.Status {
			v, err := e.evaluate(ctx, block.Name, prop, input)
			if err != nil {
				return nil, err
			}
			value.put(PropertyValue{Name: prop.Name, Value: v})
		}
		for _, prop := range block.Configuration {
			v, err := e.evaluate(ctx, block.Name, prop, input)
			if err != nil {
				return nil, err
			}
			value.putConfiguration(PropertyValue{Name: prop.Name, Value: v})
		}
		result.put(value)
	}
	return result, nil
}

func anyPathPresent(input map[string]any, paths []string) bool {
	for _, path := range paths {
		if _, ok := LookupPath(input, path); ok {
			return true
		}
	}
	return false
}

func (e *Engine) evaluate(ctx context.Context, block string, prop Property, input map[string]any) (any, error) {
	switch prop.Rule.Kind {
	case RuleStatic:
		return coerce(prop.Rule.Static, prop.Type)

	case RulePath:
		raw, ok := LookupPath(input, prop.Rule.Path)
		if !ok {
			if prop.Required {
				return nil, fmt.Errorf("%w: [%s.%s] (path %s)",
					ErrMissingRequiredField, block, prop.Name, prop.Rule.Path)
			}
			return zeroValue(prop.Type), nil
		}
		return coerce(raw, prop.Type)

	case RuleFunction:
		bindings := make(map[string]any, len(prop.Rule.Reads))
		for _, read := range prop.Rule.Reads {
			raw, ok := LookupPath(input, read)
			if !ok {
				raw = nil
			}
			bindings[pathLeaf(read)] = raw
		}
		raw, err := e.provider.Eval(ctx, prop.Rule.Body, bindings, e.deadline)
		if err != nil {
			// collapse every sandbox failure variety into the one mapping
			// signal; the underlying detail goes to the log only
			e.logger.Warn("script evaluation failed",
				"block", block, "property", prop.Name,
				"function", prop.Rule.Function, "error", err)
			return nil, fmt.Errorf("%w: script function [%s] on [%s.%s]",
				ErrMapping, prop.Rule.Function, block, prop.Name)
		}
		return coerce(raw, prop.Type)

	default:
		return nil, fmt.Errorf("%w: rule [%s.%s] has unknown kind %q",
			ErrInvalidSpec, block, prop.Name, prop.Rule.Kind)
	}
}

// coerce converts an evaluated value to the property's declared type.
func coerce(v any, t PropertyType) (any, error) {
	if v == nil {
		return zeroValue(t), nil
	}
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil

	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		case string:
			parsed, err := strconv.Atoi(n)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an integer", ErrMapping, n)
			}
			return parsed, nil
		}

	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrMapping, n)
			}
			return parsed, nil
		}

	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot represent %T as %s", ErrMapping, v, t)
}

func zeroValue(t PropertyType) any {
	switch t {
	case TypeString:
		return ""
	case TypeInt:
		return 0
	case TypeFloat:
		return float64(0)
	case TypeBool:
		return false
	}
	return nil
}
