package zeroshot

import (
	"fmt"
	"strings"
)

// Template turns a candidate label into an NLI hypothesis.
type Template func(label string) string

// DefaultFormat is the hypothesis used when no template is given.
const DefaultFormat = "This example is about {}."

// DefaultTemplate renders DefaultFormat.
func DefaultTemplate(label string) string {
	return "This example is about " + label + "."
}

// TemplateFromFormat builds a Template that substitutes the label for every
// "{}" in format.
func TemplateFromFormat(format string) (Template, error) {
	if !strings.Contains(format, "{}") {
		return nil, fmt.Errorf("hypothesis template %q has no {} placeholder", format)
	}
	return func(label string) string {
		return strings.ReplaceAll(format, "{}", label)
	}, nil
}
