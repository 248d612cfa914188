package mtemplate

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// ExpandHelpers runs a resolved string through Go's text/template with the
// sprig function library available, for workflow authors who want
// formatting helpers (date, upper, default, trimSuffix, ...) applied to an
// already-resolved value. It is a separate pass from reference resolution:
// "${...}" is never template syntax to text/template, so helper expansion
// only ever sees plain "{{ }}" actions the author wrote explicitly.
func ExpandHelpers(s string, data map[string]interface{}) (string, error) {
	tmpl, err := template.New("helpers").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid helper template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing helper template: %w", err)
	}
	return buf.String(), nil
}
