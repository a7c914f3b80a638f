package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON returns the document as JSON and names the source format. YAML is
// re-encoded so both formats go through the same strict decoder.
func toJSON(path string, raw []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return raw, "json", nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml config: %w", err)
	}
	v, err := yamlValue(&doc)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml config: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml config: %w", err)
	}
	return out, "yaml", nil
}

// yamlValue converts a node tree into JSON-marshalable values, following
// aliases and "<<" merge keys.
func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0])
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!str":
			return n.Value, nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return v, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.MappingNode:
		return yamlMapping(n)
	}
	return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
}

func yamlMapping(n *yaml.Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Content)/2)
	var merged []map[string]any
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, vn := n.Content[i], n.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping key must be a scalar", k.Line)
		}
		v, err := yamlValue(vn)
		if err != nil {
			return nil, err
		}
		if k.ShortTag() != "!!merge" {
			out[k.Value] = v
			continue
		}
		switch m := v.(type) {
		case map[string]any:
			merged = append(merged, m)
		case []any:
			for _, e := range m {
				em, ok := e.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("line %d: merge list must hold mappings", k.Line)
				}
				merged = append(merged, em)
			}
		default:
			return nil, fmt.Errorf("line %d: merge value must be a mapping", k.Line)
		}
	}
	// explicit keys win over merged ones, earlier merges over later ones
	for _, m := range merged {
		for k, v := range m {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out, nil
}
