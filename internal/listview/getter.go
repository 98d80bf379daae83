package listview

import "strings"

// MapGetter reads fields from decoded JSON objects. Dotted fields walk
// nested objects, e.g. "technician.name".
func MapGetter(item map[string]any, field string) (any, bool) {
	var cur any = item
	for part := range strings.SplitSeq(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
