// Package listview implements the search, filter, sort and pagination used
// by every list screen. View is pure: it never mutates its input.
package listview

import (
	"cmp"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DefaultPerPage is used when a query has no positive page size.
const DefaultPerPage = 10

// SortDir is a sort direction.
type SortDir string

const (
	Asc  SortDir = "asc"
	Desc SortDir = "desc"
)

// Query describes one list request.
type Query struct {
	Text         string            `json:"q,omitempty"`
	SearchFields []string          `json:"fields,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"` // empty value means no constraint
	SortKey      string            `json:"sort,omitempty"`
	SortDir      SortDir           `json:"dir,omitempty"`
	Page         int               `json:"page"`     // 1-indexed, clamped into range
	PerPage      int               `json:"per_page"` // <= 0 uses DefaultPerPage
	Locale       string            `json:"locale,omitempty"`
}

// Result is one page of a list.
type Result[T any] struct {
	Rows       []T `json:"rows"`
	TotalCount int `json:"totalCount"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
}

// Getter returns the value of field on item.
type Getter[T any] func(item T, field string) (any, bool)

// View filters, sorts and slices data according to q.
func View[T any](data []T, q Query, get Getter[T]) Result[T] {
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	rows := make([]T, 0, len(data))
	for _, item := range data {
		if matchesText(item, needle, q.SearchFields, get) && matchesFilters(item, q.Filters, get) {
			rows = append(rows, item)
		}
	}

	if q.SortKey != "" {
		sortRows(rows, q.SortKey, q.SortDir, q.Locale, get)
	}

	total := len(rows)
	totalPages := max(1, int(math.Ceil(float64(total)/float64(perPage))))
	page := min(max(q.Page, 1), totalPages)

	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)

	return Result[T]{
		Rows:       slices.Clip(rows[start:end]),
		TotalCount: total,
		TotalPages: totalPages,
		Page:       page,
	}
}

func matchesText[T any](item T, needle string, fields []string, get Getter[T]) bool {
	if needle == "" {
		return true
	}
	for _, f := range fields {
		v, ok := get(item, f)
		if ok && strings.Contains(strings.ToLower(format(v)), needle) {
			return true
		}
	}
	return false
}

func matchesFilters[T any](item T, filters map[string]string, get Getter[T]) bool {
	for field, want := range filters {
		if want == "" {
			continue
		}
		v, ok := get(item, field)
		if !ok || format(v) != want {
			return false
		}
	}
	return true
}

// columnKind is how a sort column compares. A column is numeric or
// chronological only when every present value is; mixed columns collate, so
// the order is transitive and independent of input order.
type columnKind int

const (
	kindText columnKind = iota
	kindNumber
	kindTime
)

type sortEntry[T any] struct {
	item    T
	present bool
	num     float64
	when    time.Time
	text    string
}

func sortRows[T any](rows []T, key string, dir SortDir, locale string, get Getter[T]) {
	tag := language.Und
	if locale != "" {
		if t, err := language.Parse(locale); err == nil {
			tag = t
		}
	}
	// a Collator keeps scratch buffers and is not safe for concurrent use
	coll := collate.New(tag, collate.IgnoreCase)

	entries := make([]sortEntry[T], len(rows))
	allTimes, allNumbers := true, true
	for i, item := range rows {
		v, _ := get(item, key)
		e := sortEntry[T]{item: item, present: v != nil}
		if e.present {
			if t, ok := v.(time.Time); ok {
				e.when = t
			} else {
				allTimes = false
			}
			if n, ok := number(v); ok {
				e.num = n
			} else {
				allNumbers = false
			}
			e.text = format(v)
		}
		entries[i] = e
	}

	kind := kindText
	switch {
	case allTimes:
		kind = kindTime
	case allNumbers:
		kind = kindNumber
	}

	slices.SortStableFunc(entries, func(a, b sortEntry[T]) int {
		c := compareEntries(a, b, kind, coll)
		if dir == Desc {
			return -c
		}
		return c
	})
	for i := range entries {
		rows[i] = entries[i].item
	}
}

// compareEntries orders missing values first, then by the column kind.
func compareEntries[T any](a, b sortEntry[T], kind columnKind, coll *collate.Collator) int {
	switch {
	case !a.present && !b.present:
		return 0
	case !a.present:
		return -1
	case !b.present:
		return 1
	}

	switch kind {
	case kindTime:
		return a.when.Compare(b.when)
	case kindNumber:
		return cmp.Compare(a.num, b.num)
	default:
		return coll.CompareString(a.text, b.text)
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case fmt.Stringer:
		return parseNumber(n.String())
	case string:
		return parseNumber(n)
	default:
		return 0, false
	}
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func format(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return s.Format(time.RFC3339)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// ParseQuery reads a Query from URL parameters:
// q, fields (comma separated), sort, dir, page, per_page, locale and
// filter.<field>=<value>.
func ParseQuery(values url.Values) Query {
	q := Query{
		Text:    values.Get("q"),
		SortKey: values.Get("sort"),
		SortDir: Asc,
		Locale:  values.Get("locale"),
	}
	if strings.EqualFold(values.Get("dir"), string(Desc)) {
		q.SortDir = Desc
	}
	if fields := values.Get("fields"); fields != "" {
		for f := range strings.SplitSeq(fields, ",") {
			if f = strings.TrimSpace(f); f != "" {
				q.SearchFields = append(q.SearchFields, f)
			}
		}
	}
	q.Page, _ = strconv.Atoi(values.Get("page"))
	q.PerPage, _ = strconv.Atoi(values.Get("per_page"))

	for key, vals := range values {
		field, ok := strings.CutPrefix(key, "filter.")
		if !ok || field == "" || len(vals) == 0 {
			continue
		}
		if q.Filters == nil {
			q.Filters = make(map[string]string)
		}
		q.Filters[field] = vals[0]
	}
	return q
}
