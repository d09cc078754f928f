// Package schema implements the dispatcher's per-action schema registry
// (spec §4.2): a static action -> schema mapping, strict field validation
// (unknown fields rejected), and the envelope pre-check that only looks at
// {action}.
package schema

import (
	"fmt"
	"sort"

	"github.com/nextlevelbuilder/cagehost/pkg/protocol"
)

// FieldType enumerates the value kinds a Field constrains to.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// Field describes one action-payload field and its constraints.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Enum     []string // non-empty => value must be one of these (TypeString only)
	MinLen   int       // TypeString: minimum rune length
	MaxLen   int       // TypeString: maximum rune length (0 = unbounded)
	Min      float64   // TypeNumber: inclusive lower bound
	Max      float64   // TypeNumber: inclusive upper bound (0 with MaxSet=false = unbounded)
	MaxSet   bool
	MinSet   bool
}

// Schema is the full set of fields an action's payload may contain.
// Validation is strict: fields not named here are rejected.
type Schema struct {
	Action protocol.Action
	Fields []Field
}

// Registry maps action names to their schema. The envelope schema
// (decoding only {action}) is implicit — any payload is accepted at that
// stage; only the action-specific schema enforces field shape.
type Registry struct {
	schemas map[protocol.Action]Schema
}

// NewRegistry creates an empty registry. Use Register to populate it, or
// Default for the normative action set from spec §4.2.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[protocol.Action]Schema)}
}

// Register adds or replaces the schema for an action.
func (r *Registry) Register(s Schema) {
	r.schemas = cloneWith(r.schemas, s)
}

func cloneWith(m map[protocol.Action]Schema, s Schema) map[protocol.Action]Schema {
	out := make(map[protocol.Action]Schema, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[s.Action] = s
	return out
}

// Known reports whether an action has a registered schema — this is the
// envelope-validation check from spec §4.6 step 2 (ipc_unknown_action).
func (r *Registry) Known(action protocol.Action) bool {
	_, ok := r.schemas[action]
	return ok
}

// Validate strict-checks payload against action's schema: every required
// field must be present and type-correct, every present field must match
// its declared type and constraints, and no field outside the schema may
// appear (spec §4.2, §8 invariant 2).
func (r *Registry) Validate(action protocol.Action, payload map[string]any) error {
	s, ok := r.schemas[action]
	if !ok {
		return fmt.Errorf("schema: unknown action %q", action)
	}

	allowed := make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		allowed[f.Name] = f
	}

	for _, f := range s.Fields {
		v, present := payload[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("schema: %s: missing required field %q", action, f.Name)
			}
			continue
		}
		if err := validateField(f, v); err != nil {
			return fmt.Errorf("schema: %s: %w", action, err)
		}
	}

	var unknown []string
	for k := range payload {
		if k == "action" {
			continue
		}
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("schema: %s: unknown field(s): %v", action, unknown)
	}
	return nil
}

func validateField(f Field, v any) error {
	switch f.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %q must be a string", f.Name)
		}
		n := len([]rune(s))
		if f.MinLen > 0 && n < f.MinLen {
			return fmt.Errorf("field %q shorter than minimum length %d", f.Name, f.MinLen)
		}
		if f.MaxLen > 0 && n > f.MaxLen {
			return fmt.Errorf("field %q longer than maximum length %d", f.Name, f.MaxLen)
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return fmt.Errorf("field %q must be one of %v", f.Name, f.Enum)
		}
	case TypeNumber:
		n, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("field %q must be a number", f.Name)
		}
		if f.MinSet && n < f.Min {
			return fmt.Errorf("field %q below minimum %v", f.Name, f.Min)
		}
		if f.MaxSet && n > f.Max {
			return fmt.Errorf("field %q above maximum %v", f.Name, f.Max)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field %q must be a bool", f.Name)
		}
	case TypeArray:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("field %q must be an array", f.Name)
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object", f.Name)
		}
	default:
		return fmt.Errorf("field %q: unknown schema type %q", f.Name, f.Type)
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
