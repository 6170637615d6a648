// Package mapping implements the data-driven payload mapping engine: given a
// declarative specification of field-level transformation rules, it turns an
// arbitrary decoded device payload into a typed output document. Script-backed
// rules are evaluated through a pluggable sandbox with strict execution
// boundaries.
package mapping

import (
	"encoding/json"
	"fmt"
)

// PropertyType is the declared materialized type of an output field.
type PropertyType string

const (
	TypeString PropertyType = "string"
	TypeInt    PropertyType = "int"
	TypeFloat  PropertyType = "float"
	TypeBool   PropertyType = "boolean"
)

// RuleKind discriminates how a property value is computed.
type RuleKind string

const (
	// RuleStatic emits a literal constant.
	RuleStatic RuleKind = "static"
	// RulePath looks up a path expression in the input payload.
	RulePath RuleKind = "path"
	// RuleFunction evaluates a script function body in the sandbox, with the
	// declared read-set bound as its only inputs.
	RuleFunction RuleKind = "function"
)

// Rule describes how one property's value is computed from the input.
type Rule struct {
	Kind RuleKind `json:"kind"`

	// Static holds the constant for RuleStatic.
	Static any `json:"static,omitempty"`

	// Path holds the input path expression for RulePath.
	Path string `json:"path,omitempty"`

	// Function and Body hold the script name and body for RuleFunction.
	// Reads is the set of input paths the script may observe; each path's
	// value is bound under the path's last segment before evaluation.
	Function string   `json:"function,omitempty"`
	Body     string   `json:"body,omitempty"`
	Reads    []string `json:"reads,omitempty"`
}

// Property is one typed output field of a function block's status section.
type Property struct {
	Name     string       `json:"name"`
	Type     PropertyType `json:"type"`
	Required bool         `json:"required,omitempty"`
	Rule     Rule         `json:"rule"`
}

// FunctionBlock is one structural section of the output document, modeling a
// device capability (e.g. a button, a voltage sensor). Status carries the
// measured state, Configuration the device settings; both sections map with
// the same rule kinds. A block whose referenced input paths are all absent
// from a payload is omitted from the result entirely.
type FunctionBlock struct {
	Name          string     `json:"name"`
	Status        []Property `json:"status"`
	Configuration []Property `json:"configuration,omitempty"`
}

// Spec is the declarative mapping specification: the output document shape
// and, per field, how to compute its value. A Spec is read-only after the
// engine is built from it.
type Spec struct {
	Infomodel string          `json:"infomodel"`
	Blocks    []FunctionBlock `json:"functionblocks"`
}

// ParseSpec decodes a specification from JSON.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode mapping spec: %w", err)
	}
	return &spec, nil
}

// inputPaths returns every input path a block's rules reference. The block
// is present in a result only when at least one of these paths resolves in
// the input payload.
func (b *FunctionBlock) inputPaths() []string {
	var paths []string
	for _, section := range [][]Property{b.Status, b.Configuration} {
		for _, p := range section {
			switch p.Rule.Kind {
			case RulePath:
				paths = append(paths, p.Rule.Path)
			case RuleFunction:
				paths = append(paths, p.Rule.Reads...)
			}
		}
	}
	return paths
}

// validate checks the specification's internal references are well-formed.
// It cannot validate against actual input, which is unknown until MapSource.
func (s *Spec) validate() error {
	if s.Infomodel == "" {
		return fmt.Errorf("%w: specification has no infomodel name", ErrInvalidSpec)
	}
	if len(s.Blocks) == 0 {
		return fmt.Errorf("%w: specification has no function blocks", ErrInvalidSpec)
	}
	seenBlocks := make(map[string]bool)
	for _, block := range s.Blocks {
		if block.Name == "" {
			return fmt.Errorf("%w: function block with empty name", ErrInvalidSpec)
		}
		if seenBlocks[block.Name] {
			return fmt.Errorf("%w: duplicate function block [%s]", ErrInvalidSpec, block.Name)
		}
		seenBlocks[block.Name] = true

		for _, section := range [][]Property{block.Status, block.Configuration} {
			seenProps := make(map[string]bool)
			for _, prop := range section {
				if prop.Name == "" {
					return fmt.Errorf("%w: property with empty name in block [%s]",
						ErrInvalidSpec, block.Name)
				}
				if seenProps[prop.Name] {
					return fmt.Errorf("%w: duplicate property [%s.%s]",
						ErrInvalidSpec, block.Name, prop.Name)
				}
				seenProps[prop.Name] = true
				if err := prop.Rule.validate(block.Name, prop.Name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *Rule) validate(block, prop string) error {
	switch r.Kind {
	case RuleStatic:
		if r.Static == nil {
			return fmt.Errorf("%w: static rule [%s.%s] has no value", ErrInvalidSpec, block, prop)
		}
	case RulePath:
		if err := ValidatePath(r.Path); err != nil {
			return fmt.Errorf("%w: path rule [%s.%s]: %v", ErrInvalidSpec, block, prop, err)
		}
	case RuleFunction:
		if r.Body == "" {
			return fmt.Errorf("%w: function rule [%s.%s] has no body", ErrInvalidSpec, block, prop)
		}
		for _, read := range r.Reads {
			if err := ValidatePath(read); err != nil {
				return fmt.Errorf("%w: function rule [%s.%s] read-set: %v",
					ErrInvalidSpec, block, prop, err)
			}
		}
	default:
		return fmt.Errorf("%w: rule [%s.%s] has unknown kind %q",
			ErrInvalidSpec, block, prop, r.Kind)
	}
	return nil
}
