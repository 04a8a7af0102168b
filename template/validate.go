package template

import (
	"encoding/json"
	"errors"
	"regexp"
	"unicode/utf8"
)

// Recognized placeholder syntaxes, replaced with JSON stand-ins before
// structural validation. Quoted forms become a quoted stand-in; bare forms
// become a number so that tokens in numeric positions (seed, steps, cfg,
// width, height) and sampler/scheduler names still parse.
var standins = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`"%[A-Za-z0-9_]+%"`), `"_"`},
	{regexp.MustCompile(`"\[[A-Za-z0-9_. ]+\]"`), `"_"`},
	{regexp.MustCompile(`\{\{[^{}]+\}\}`), `0`},
	{regexp.MustCompile(`%[A-Za-z0-9_]+%`), `0`},
}

// Hints listed alongside every parse failure. These cover the mistakes users
// actually make when hand-editing exported workflows.
var parseHints = []string{
	"remove any trailing comma after the last item of an object or array",
	"every object key and string value must use double quotes",
	"a placeholder outside of a quoted string must expand to valid JSON",
	"JSON does not allow comments",
	"export the workflow with 'Save (API Format)' rather than the regular save",
}

// Validate checks that workflow text is structurally sound without resolving
// its placeholders. It works on a scratch copy: every recognized placeholder
// syntax is swapped for a syntactically valid stand-in, then the result is
// parsed. The stored template is never modified; the generation path still
// sees the literal tokens.
func Validate(text string) error {
	scratch := StripBOM(text)
	for _, s := range standins {
		scratch = s.re.ReplaceAllString(scratch, s.repl)
	}
	_, err := Parse(scratch)
	return err
}

// ParseError reports a malformed workflow document with enough context to fix
// it: the parser's own message, an excerpt of the source surrounding the
// failure offset, and a fixed list of common mistakes.
type ParseError struct {
	Msg     string
	Excerpt string
	Hints   []string
}

func (e *ParseError) Error() string {
	if e.Excerpt != "" {
		return "invalid workflow: " + e.Msg + " near ..." + e.Excerpt + "..."
	}
	return "invalid workflow: " + e.Msg
}

// SerializeError reports a workflow tree that parsed but could not be encoded
// back to JSON after substitution.
type SerializeError struct {
	Err error
}

func (e *SerializeError) Error() string {
	return "workflow could not be re-serialized after substitution: " + e.Err.Error()
}

func (e *SerializeError) Unwrap() error { return e.Err }

const excerptRadius = 50

func newParseError(text string, err error) *ParseError {
	pe := &ParseError{
		Msg:   err.Error(),
		Hints: parseHints,
	}

	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		pe.Excerpt = excerpt(text, syn.Offset)
	}
	return pe
}

// excerpt returns the source text surrounding offset, excerptRadius bytes of
// slack on either side, widened outward to rune boundaries so multibyte
// characters are never split.
func excerpt(text string, offset int64) string {
	if offset < 0 || offset > int64(len(text)) {
		return ""
	}
	start := int(offset) - excerptRadius
	if start < 0 {
		start = 0
	}
	end := int(offset) + excerptRadius
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return text[start:end]
}
