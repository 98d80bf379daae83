package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/mainthub/notifier/internal/errors"
)

// Raw is an undecoded notification as received from the REST backend, the
// channel or a fixture file.
type Raw map[string]any

// Accepted source keys per canonical field; the first present key wins.
var (
	idKeys         = []string{"id", "_id", "notificationId"}
	titleKeys      = []string{"title", "titre", "subject"}
	messageKeys    = []string{"message", "body", "content", "contenu"}
	typeKeys       = []string{"type", "notificationType", "category"}
	priorityKeys   = []string{"priority", "priorite", "level", "severity"}
	readKeys       = []string{"isRead", "read", "lu"}
	timestampKeys  = []string{"createdAt", "timestamp", "dateCreation", "date"}
	projectKeys    = []string{"project", "projectName", "projet"}
	liftedMetaKeys = []string{MetadataKeyActions, MetadataKeyRoles, MetadataKeyTargetRole, MetadataKeyTags}
)

var priorityAliases = map[string]Priority{
	"CRITICAL":  PriorityCritical,
	"URGENT":    PriorityCritical,
	"CRITIQUE":  PriorityCritical,
	"P1":        PriorityCritical,
	"HIGH":      PriorityHigh,
	"HAUTE":     PriorityHigh,
	"IMPORTANT": PriorityHigh,
	"ELEVEE":    PriorityHigh,
	"P2":        PriorityHigh,
	"NORMAL":    PriorityNormal,
	"MEDIUM":    PriorityNormal,
	"MOYENNE":   PriorityNormal,
	"P3":        PriorityNormal,
	"LOW":       PriorityLow,
	"BASSE":     PriorityLow,
	"INFO":      PriorityLow,
	"P4":        PriorityLow,
}

// Zone-less layouts are interpreted in local time.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var markupPattern = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

// NormalizeOptions tunes a Normalizer.
type NormalizeOptions struct {
	// PriorityFromType derives a missing priority from the type profile instead of NORMAL.
	PriorityFromType bool
	// Clock supplies the timestamp of records without one; defaults to the system clock.
	Clock Clock
	// NewID generates ids for records without one; defaults to uuid v4.
	NewID func() string
}

// Normalizer converts Raw payloads of any source into Records. It has no
// side effects beyond reading the clock and generating ids for incomplete input.
type Normalizer struct {
	opts NormalizeOptions
}

// NewNormalizer returns a Normalizer with defaults filled in.
func NewNormalizer(opts NormalizeOptions) *Normalizer {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Normalizer{opts: opts}
}

var defaultNormalizer = NewNormalizer(NormalizeOptions{})

// Normalize converts raw with the default Normalizer.
func Normalize(raw Raw) (*Record, error) {
	return defaultNormalizer.Normalize(raw)
}

// Normalize converts raw, taking the source from the payload (local when absent).
func (n *Normalizer) Normalize(raw Raw) (*Record, error) {
	return n.NormalizeFrom("", raw)
}

// NormalizeFrom converts raw and stamps it with src. An empty src keeps the
// payload's own source.
func (n *Normalizer) NormalizeFrom(src Source, raw Raw) (*Record, error) {
	if raw == nil {
		return nil, payloadError(fmt.Errorf("empty notification payload"), "normalize")
	}

	rec := &Record{}

	id, err := stringID(first(raw, idKeys))
	if err != nil {
		return nil, payloadError(err, "normalize_id")
	}
	if id == "" {
		id = n.opts.NewID()
	}
	rec.ID = id

	rec.Type = normalizeType(first(raw, typeKeys))
	rec.Priority = n.normalizePriority(first(raw, priorityKeys), rec.Type)
	rec.Title = strings.TrimSpace(asString(first(raw, titleKeys)))
	if rec.Title == "" {
		rec.Title = ProfileFor(rec.Type).Label
	}
	rec.Message = plainText(asString(first(raw, messageKeys)))
	rec.IsRead = asBool(first(raw, readKeys))
	rec.Project = strings.TrimSpace(asString(first(raw, projectKeys)))

	ts, ok := parseTimestamp(first(raw, timestampKeys))
	if !ok {
		ts = n.opts.Clock.Now()
	}
	rec.Timestamp = ts.Round(0)

	rec.Metadata = normalizeMetadata(raw)
	rec.Persistent = asBool(raw["persistent"]) || rec.Priority == PriorityCritical

	switch {
	case src != "":
		rec.Source = src
	case asString(raw["source"]) != "":
		rec.Source = Source(asString(raw["source"]))
	default:
		rec.Source = SourceLocal
	}

	return rec, nil
}

// NormalizeJSON decodes a single JSON object and normalizes it.
func (n *Normalizer) NormalizeJSON(src Source, data []byte) (*Record, error) {
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, payloadError(err, "decode_json")
	}
	m, err := objectMap(obj)
	if err != nil {
		return nil, payloadError(err, "decode_json")
	}
	return n.NormalizeFrom(src, m)
}

// NormalizeBatch decodes a JSON array of notifications, or an object wrapping
// one under "notifications", "data" or "content". Items that fail to normalize
// are reported in the error slice and skipped.
func (n *Normalizer) NormalizeBatch(src Source, data []byte) ([]*Record, []error) {
	items, err := decodeBatch(data)
	if err != nil {
		return nil, []error{payloadError(err, "decode_batch")}
	}

	records := make([]*Record, 0, len(items))
	var errs []error
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			errs = append(errs, payloadError(fmt.Errorf("item %d is not an object", i), "decode_batch"))
			continue
		}
		rec, err := n.NormalizeFrom(src, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}

func decodeBatch(data []byte) ([]any, error) {
	value, err := jason.NewValueFromBytes(data)
	if err != nil {
		return nil, err
	}

	if arr, err := value.Array(); err == nil {
		items := make([]any, 0, len(arr))
		for _, v := range arr {
			item, err := plainValue(v)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}

	obj, err := value.Object()
	if err != nil {
		return nil, fmt.Errorf("notification batch is neither an array nor an object")
	}
	for _, key := range []string{"notifications", "data", "content"} {
		wrapped, err := obj.GetObjectArray(key)
		if err != nil {
			continue
		}
		items := make([]any, 0, len(wrapped))
		for _, o := range wrapped {
			item, err := objectMap(o)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}
	return nil, fmt.Errorf("notification batch object has no notifications array")
}

// marshaler is the part of jason values needed to get plain Go values back.
type marshaler interface {
	Marshal() ([]byte, error)
}

// plainValue converts a jason value into maps, slices and scalars. Numbers
// stay json.Number so large ids keep their digits.
func plainValue(v marshaler) (any, error) {
	data, err := v.Marshal()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// objectMap converts a jason object into a Raw-compatible map.
func objectMap(obj *jason.Object) (map[string]any, error) {
	v, err := plainValue(obj)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("notification payload is not an object")
	}
	return m, nil
}

func payloadError(err error, op string) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryPayload).
		Context("operation", op).
		Build()
}

func first(raw Raw, keys []string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func stringID(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(id), nil
	case json.Number:
		if i, err := id.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return id.String(), nil
	case float64:
		if id == math.Trunc(id) && math.Abs(id) < 1<<53 {
			return strconv.FormatInt(int64(id), 10), nil
		}
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case uint64:
		return strconv.FormatUint(id, 10), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

func normalizeType(v any) Type {
	t := strings.ToUpper(strings.TrimSpace(asString(v)))
	if t == "" {
		return TypeGeneral
	}
	return Type(strings.ReplaceAll(t, " ", "_"))
}

func (n *Normalizer) normalizePriority(v any, t Type) Priority {
	s := strings.ToUpper(strings.TrimSpace(asString(v)))
	if s == "" {
		if n.opts.PriorityFromType {
			return ProfileFor(t).Priority
		}
		return PriorityNormal
	}
	if p, ok := priorityAliases[s]; ok {
		return p
	}
	return PriorityNormal
}

func normalizeMetadata(raw Raw) map[string]any {
	var meta map[string]any
	if m, ok := raw["metadata"].(map[string]any); ok && len(m) > 0 {
		meta = maps.Clone(m)
	}
	for _, key := range liftedMetaKeys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if meta == nil {
			meta = make(map[string]any)
		}
		if _, exists := meta[key]; !exists {
			meta[key] = v
		}
	}
	if meta == nil {
		return nil
	}
	return (&Record{Metadata: meta}).Clone().Metadata
}

// maxMarkupPasses bounds html2text runs; decoded entities can form new tags.
const maxMarkupPasses = 4

// plainText converts markup to text until no tag remains, so a converted
// message converts to itself.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	for range maxMarkupPasses {
		if !markupPattern.MatchString(s) {
			return s
		}
		s = strings.TrimSpace(html2text.HTML2Text(s))
	}
	for markupPattern.MatchString(s) {
		s = strings.TrimSpace(markupPattern.ReplaceAllString(s, ""))
	}
	return s
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	case json.Number:
		f, err := b.Float64()
		return err == nil && f != 0
	case float64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}

// parseTimestamp accepts time values, epoch milliseconds, ISO-8601 strings and
// arrays of date parts [y, m, d, h, mi, s, nanos].
func parseTimestamp(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, !ts.IsZero()
	case json.Number:
		if ms, err := ts.Int64(); err == nil {
			return time.UnixMilli(ms), true
		}
		if f, err := ts.Float64(); err == nil {
			return time.UnixMilli(int64(f)), true
		}
	case float64:
		return time.UnixMilli(int64(ts)), true
	case int64:
		return time.UnixMilli(ts), true
	case int:
		return time.UnixMilli(int64(ts)), true
	case string:
		return parseTimeString(strings.TrimSpace(ts))
	case []any:
		return parseTimeParts(ts)
	}
	return time.Time{}, false
}

func parseTimeString(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseTimeParts(parts []any) (time.Time, bool) {
	if len(parts) < 3 {
		return time.Time{}, false
	}
	vals := make([]int, 7)
	for i := 0; i < len(parts) && i < len(vals); i++ {
		n, ok := asInt(parts[i])
		if !ok {
			return time.Time{}, false
		}
		vals[i] = n
	}
	return time.Date(vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5], vals[6], time.Local), true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), n == math.Trunc(n)
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
