package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrNoJSON is returned when a reply contains no JSON value at all.
var ErrNoJSON = eris.New("llm: no JSON found in reply")

// ExtractJSON returns the first complete JSON object or array embedded in
// text, ignoring markdown fences and surrounding prose.
func ExtractJSON(text string) (string, error) {
	candidates := jsonCandidates(text)
	if len(candidates) == 0 {
		return "", ErrNoJSON
	}
	return candidates[0], nil
}

// jsonCandidates lists the top-level JSON objects and arrays embedded in
// text, in order. Values nested inside a candidate are not listed.
func jsonCandidates(text string) []string {
	text = strings.TrimSpace(text)
	var out []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := matchingClose(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if json.Valid([]byte(candidate)) {
			out = append(out, candidate)
			i = end
		}
	}
	return out
}

// matchingClose finds the bracket closing the one at start, skipping over
// string literals. It returns -1 when the value is unterminated.
func matchingClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Schema is a compiled JSON Schema used to validate model replies before
// they are decoded into Go types.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

var schemaCache sync.Map // name -> *Schema

// MustSchema compiles src once per name and panics on an invalid schema.
// Schemas are package-level literals, so a failure is a programming error.
func MustSchema(name, src string) *Schema {
	if v, ok := schemaCache.Load(name); ok {
		return v.(*Schema)
	}
	compiled, err := jsonschema.CompileString(name+".json", src)
	if err != nil {
		panic(fmt.Sprintf("llm: compile schema %s: %v", name, err))
	}
	s := &Schema{name: name, schema: compiled}
	schemaCache.Store(name, s)
	return s
}

// Validate checks a decoded JSON document against the schema, reporting
// the first leaf violation.
func (s *Schema) Validate(doc any) error {
	err := s.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if eris.As(err, &ve) {
		leaf := firstLeaf(ve)
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return eris.Errorf("llm: reply violates %s schema at %s: %s", s.name, loc, leaf.Message)
	}
	return eris.Wrapf(err, "llm: validate against %s", s.name)
}

func firstLeaf(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// ParseJSON extracts the JSON value from a reply, validates it against
// schema when one is given, and decodes it into T. With a schema, the first
// embedded value that satisfies it wins, so citation markers such as "[1]"
// in the prose are skipped.
func ParseJSON[T any](text string, schema *Schema) (T, error) {
	var out T
	candidates := jsonCandidates(text)
	if len(candidates) == 0 {
		return out, ErrNoJSON
	}
	raw := candidates[0]
	if schema != nil {
		var firstErr error
		raw = ""
		for _, c := range candidates {
			var doc any
			if err := json.Unmarshal([]byte(c), &doc); err != nil {
				if firstErr == nil {
					firstErr = eris.Wrap(err, "llm: decode reply")
				}
				continue
			}
			if err := schema.Validate(doc); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			raw = c
			break
		}
		if raw == "" {
			return out, firstErr
		}
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, eris.Wrap(err, "llm: decode reply")
	}
	return out, nil
}
