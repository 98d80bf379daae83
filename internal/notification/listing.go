package notification

import "strings"

// DefaultSearchFields are searched when a list query names no fields.
var DefaultSearchFields = []string{"title", "message", "project", "type"}

// RecordField exposes record fields to list views by their JSON names.
// Metadata entries are addressed as "metadata.<key>".
func RecordField(rec *Record, field string) (any, bool) {
	switch field {
	case "id":
		return rec.ID, true
	case "title":
		return rec.Title, true
	case "message":
		return rec.Message, true
	case "type":
		return string(rec.Type), true
	case "priority":
		return string(rec.Priority), true
	case "priorityRank":
		return rec.Priority.Rank(), true
	case "isRead":
		return rec.IsRead, true
	case "createdAt", "timestamp":
		return rec.Timestamp, true
	case "project":
		return rec.Project, true
	case "persistent":
		return rec.Persistent, true
	case "source":
		return string(rec.Source), true
	}
	if key, ok := strings.CutPrefix(field, "metadata."); ok {
		v, ok := rec.Metadata[key]
		return v, ok
	}
	return nil, false
}
