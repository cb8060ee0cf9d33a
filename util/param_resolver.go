package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenRe = regexp.MustCompile(`{(.*?)}`)

// ResolveParams substitutes `$.` jsonpath references in action params against
// the evaluation scope (contact properties, instance vars, triggering event).
// A string value that is exactly one reference keeps the referenced type;
// references embedded in longer strings are interpolated as text.
func ResolveParams(scope map[string]any, params map[string]any) map[string]any {
	output := make(map[string]any)
	resolveParams(scope, params, output)
	return output
}

func resolveParams(scope map[string]any, params map[string]any, output map[string]any) {
	for k, v := range params {
		switch tv := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			output[k] = out
			resolveParams(scope, tv, out)
		case string:
			output[k] = resolveString(scope, tv)
		case []any:
			output[k] = resolveList(scope, tv)
		default:
			output[k] = v
		}
	}
}

func resolveString(scope map[string]any, s string) any {
	if strings.HasPrefix(s, "$.") {
		value, err := jsonpath.JsonPathLookup(scope, s)
		if err != nil {
			return nil
		}
		return value
	}
	tokens := tokenRe.FindAllString(s, -1)
	for _, token := range tokens {
		ref := strings.TrimSuffix(strings.TrimPrefix(token, "{"), "}")
		if !strings.HasPrefix(ref, "$") {
			continue
		}
		value, _ := jsonpath.JsonPathLookup(scope, ref)
		s = strings.ReplaceAll(s, token, fmt.Sprintf("%v", value))
	}
	return s
}

func resolveList(scope map[string]any, list []any) []any {
	var output []any
	for _, v := range list {
		switch tv := v.(type) {
		case map[string]any:
			out := make(map[string]any)
			resolveParams(scope, tv, out)
			output = append(output, out)
		case string:
			output = append(output, resolveString(scope, tv))
		case []any:
			output = append(output, resolveList(scope, tv))
		default:
			output = append(output, v)
		}
	}
	return output
}
