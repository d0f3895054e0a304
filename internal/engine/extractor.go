package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/RealZimboGuy/convoflow/pkg/convoflow/models"
)

var keyTemplatePlaceholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// extractContext pulls structured fields out of an utterance following
// the declared extraction rules in order, so later lookup fields can
// reference earlier extracted fields in their key template. groups are
// the capture groups of the trigger pattern match, nil for a keyword
// match. A single failing field never aborts the pass; the field falls
// back to its default or is left out.
func extractContext(rules models.ExtractRules, utterance string, groups []string, lookup func(table string) map[string]any) map[string]any {
	out := map[string]any{}
	for _, rule := range rules {
		switch rule.From {
		case models.FromPatternGroup:
			value := ""
			if rule.Group > 0 && rule.Group < len(groups) {
				value = groups[rule.Group]
			}
			if value == "" {
				if rule.Default != nil {
					out[rule.Field] = rule.Default
				}
				continue
			}
			switch rule.Transform {
			case "lowercase":
				value = strings.ToLower(value)
			case "uppercase":
				value = strings.ToUpper(value)
			}
			out[rule.Field] = value

		case models.FromLookup:
			key := formatKeyTemplate(rule.Key, out)
			if table := lookup(rule.Table); table != nil {
				if v, ok := table[key]; ok {
					out[rule.Field] = v
					continue
				}
				// lookup tables are declared in document case, keys
				// built from extracted fields are often lowercased
				if v, ok := table[strings.ToLower(key)]; ok {
					out[rule.Field] = v
					continue
				}
			}
			if rule.Default != nil {
				out[rule.Field] = rule.Default
			} else {
				out[rule.Field] = 0
			}

		case models.FromMessage:
			out[rule.Field] = utterance

		case models.FromLiteral:
			out[rule.Field] = rule.Value
		}
	}
	return out
}

// formatKeyTemplate resolves {field} placeholders in a lookup key
// template against the fields extracted so far. Unknown fields resolve
// to the empty string.
func formatKeyTemplate(template string, fields map[string]any) string {
	return keyTemplatePlaceholder.ReplaceAllStringFunc(template, func(m string) string {
		name := keyTemplatePlaceholder.FindStringSubmatch(m)[1]
		if v, ok := fields[name]; ok {
			return fmt.Sprint(v)
		}
		return ""
	})
}

// validateContext applies the declared validation rules in order.
// Matching against the allowed values is case-insensitive. A reject
// policy fails the whole candidate; use_default overwrites the field and
// validation continues. Fields not covered by any rule pass through.
func validateContext(rules []models.ValidationRule, ctx map[string]any) bool {
	for _, rule := range rules {
		value, present := ctx[rule.Field]
		allowed := false
		if present {
			s := fmt.Sprint(value)
			for _, v := range rule.Values {
				if strings.EqualFold(s, v) {
					allowed = true
					break
				}
			}
		}
		if allowed {
			continue
		}
		if rule.OnFail == models.OnFailUseDefault {
			ctx[rule.Field] = rule.Default
			continue
		}
		return false
	}
	return true
}
