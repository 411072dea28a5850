package forms

import (
	"regexp"
	"strings"
)

const fieldNamePrefix = "field"

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// ResolveFieldName maps a display label to the input name used in submitted forms.
// "Your E-mail " becomes "field_your_e_mail". A label with no usable characters
// resolves to the bare prefix.
func ResolveFieldName(label string) string {
	name := nonAlphanumeric.ReplaceAllString(strings.ToLower(strings.TrimSpace(label)), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return fieldNamePrefix
	}
	return fieldNamePrefix + "_" + name
}
