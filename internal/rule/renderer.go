package rule

import (
	"fmt"
	"sort"
	"strings"
)

// Renderer turns a rule's message template into the delivered text.
type Renderer interface {
	Render(template string, data map[string]any) (string, error)
}

// PlaceholderRenderer replaces {{key}} placeholders with values from data.
// Unknown placeholders are left untouched.
type PlaceholderRenderer struct{}

func (PlaceholderRenderer) Render(template string, data map[string]any) (string, error) {
	if len(data) == 0 {
		return template, nil
	}

	// Sorted keys keep the output stable when one value contains another placeholder.
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", placeholderValue(data[k]))
	}

	return strings.NewReplacer(pairs...).Replace(template), nil
}

func placeholderValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}
