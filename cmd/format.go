package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// marshalYAML renders v as YAML using its JSON field names, so YAML and
// JSON output share one schema.
func marshalYAML(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "yaml: marshal json")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "yaml: decode json")
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "yaml: marshal")
	}
	return out, nil
}
