// Package template fills ComfyUI workflow templates. A workflow is treated as
// an opaque JSON tree; the only transformation applied is literal placeholder
// substitution on string values.
package template

import (
	"encoding/json"
	"strings"
)

// Placeholder is a literal token and the value that replaces it.
type Placeholder struct {
	Token string
	Value string
}

// Placeholders is an ordered list of substitutions. Order matters: tokens are
// applied first to last, and a value may itself contain a later token.
type Placeholders []Placeholder

// Fill returns a copy of doc with every occurrence of every placeholder token
// replaced in every string value. Maps and slices are rebuilt so the input
// tree is never mutated; non-string scalars pass through unchanged.
func Fill(doc any, placeholders Placeholders) any {
	switch v := doc.(type) {
	case string:
		for _, p := range placeholders {
			v = strings.ReplaceAll(v, p.Token, p.Value)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = Fill(child, placeholders)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = Fill(child, placeholders)
		}
		return out
	default:
		return doc
	}
}

// Parse decodes workflow text into a JSON tree. A leading byte-order marker
// is stripped first. The root must be an object or an array; anything else is
// rejected because a workflow is a graph of nodes, not a bare scalar.
func Parse(text string) (any, error) {
	text = StripBOM(text)

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, newParseError(text, err)
	}

	switch doc.(type) {
	case map[string]any, []any:
		return doc, nil
	default:
		return nil, &ParseError{Msg: "workflow must be a JSON object or array"}
	}
}

// Marshal re-serializes a filled workflow tree. A failure here means the
// substitution produced something encoding/json cannot represent, which is
// reported as a SerializeError so callers can tell it apart from a parse
// failure of the source text.
func Marshal(doc any) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, &SerializeError{Err: err}
	}
	return data, nil
}

// StripBOM removes a leading UTF-8 byte-order marker. Workflow files saved by
// Windows editors often carry one and encoding/json rejects it.
func StripBOM(text string) string {
	return strings.TrimPrefix(text, "\uFEFF")
}
