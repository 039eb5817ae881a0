package filter

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Spec is one entry of a declared chain. In YAML it is written as
//
//	- html2text                      # name only
//	- grep: "price"                  # scalar bound to the default option
//	- re.sub: {pattern: '\d+', repl: N}
type Spec struct {
	Name    string         `json:"name"`
	Value   any            `json:"value,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return fmt.Errorf("filter: line %d: empty filter name", node.Line)
		}
		*s = Spec{Name: node.Value}
		return nil

	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("filter: line %d: a filter entry must have exactly one name", node.Line)
		}
		key, val := node.Content[0], node.Content[1]
		spec := Spec{Name: key.Value}
		switch val.Kind {
		case yaml.ScalarNode:
			if val.Tag != "!!null" {
				var v any
				if err := val.Decode(&v); err != nil {
					return fmt.Errorf("filter %q: %w", spec.Name, err)
				}
				spec.Value = v
			}
		case yaml.MappingNode:
			opts := map[string]any{}
			if err := val.Decode(&opts); err != nil {
				return fmt.Errorf("filter %q: %w", spec.Name, err)
			}
			spec.Options = opts
		default:
			return fmt.Errorf("filter %q: line %d: options must be a scalar or a mapping", spec.Name, val.Line)
		}
		*s = spec
		return nil

	default:
		return fmt.Errorf("filter: line %d: unsupported filter entry", node.Line)
	}
}

// MarshalYAML writes the short form back.
func (s Spec) MarshalYAML() (any, error) {
	switch {
	case s.Value == nil && len(s.Options) == 0:
		return s.Name, nil
	case len(s.Options) == 0:
		return map[string]any{s.Name: s.Value}, nil
	default:
		return map[string]any{s.Name: s.Options}, nil
	}
}

// ParseChain decodes a YAML list of specs, as given on the command line
// (`--filter '[html2text, {grep: price}]'`).
func ParseChain(src string) ([]Spec, error) {
	var specs []Spec
	if err := yaml.Unmarshal([]byte(src), &specs); err != nil {
		return nil, fmt.Errorf("filter: parse chain: %w", err)
	}
	return specs, nil
}
