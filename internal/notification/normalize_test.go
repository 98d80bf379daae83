package notification

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthub/notifier/internal/errors"
)

func TestNormalizeFieldMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   Raw
		check func(t *testing.T, r *Record)
	}{
		{"id", Raw{"id": "n-1"}, func(t *testing.T, r *Record) { assert.Equal(t, "n-1", r.ID) }},
		{"_id", Raw{"_id": "mongo-7"}, func(t *testing.T, r *Record) { assert.Equal(t, "mongo-7", r.ID) }},
		{"notificationId", Raw{"notificationId": 42.0}, func(t *testing.T, r *Record) { assert.Equal(t, "42", r.ID) }},
		{"titre", Raw{"titre": " Alerte "}, func(t *testing.T, r *Record) { assert.Equal(t, "Alerte", r.Title) }},
		{"subject", Raw{"subject": "Sujet"}, func(t *testing.T, r *Record) { assert.Equal(t, "Sujet", r.Title) }},
		{"body", Raw{"body": "corps"}, func(t *testing.T, r *Record) { assert.Equal(t, "corps", r.Message) }},
		{"contenu", Raw{"contenu": "texte"}, func(t *testing.T, r *Record) { assert.Equal(t, "texte", r.Message) }},
		{"notificationType", Raw{"notificationType": "stock_low"}, func(t *testing.T, r *Record) {
			assert.Equal(t, TypeStockLow, r.Type)
		}},
		{"category", Raw{"category": "order received"}, func(t *testing.T, r *Record) {
			assert.Equal(t, TypeOrderReceived, r.Type)
		}},
		{"priorite", Raw{"priorite": "haute"}, func(t *testing.T, r *Record) { assert.Equal(t, PriorityHigh, r.Priority) }},
		{"severity", Raw{"severity": "P1"}, func(t *testing.T, r *Record) { assert.Equal(t, PriorityCritical, r.Priority) }},
		{"read fallback", Raw{"read": true}, func(t *testing.T, r *Record) { assert.True(t, r.IsRead) }},
		{"isRead wins over read", Raw{"isRead": false, "read": true}, func(t *testing.T, r *Record) { assert.False(t, r.IsRead) }},
		{"lu", Raw{"lu": "true"}, func(t *testing.T, r *Record) { assert.True(t, r.IsRead) }},
		{"read defaults false", Raw{}, func(t *testing.T, r *Record) { assert.False(t, r.IsRead) }},
		{"projectName", Raw{"projectName": "Ligne B"}, func(t *testing.T, r *Record) { assert.Equal(t, "Ligne B", r.Project) }},
		{"project wins", Raw{"project": "A", "projectName": "B"}, func(t *testing.T, r *Record) { assert.Equal(t, "A", r.Project) }},
		{"projet", Raw{"projet": "Atelier"}, func(t *testing.T, r *Record) { assert.Equal(t, "Atelier", r.Project) }},
		{"persistent flag", Raw{"persistent": true, "priority": "LOW"}, func(t *testing.T, r *Record) { assert.True(t, r.Persistent) }},
		{"critical is persistent", Raw{"priority": "CRITICAL"}, func(t *testing.T, r *Record) { assert.True(t, r.Persistent) }},
		{"empty type", Raw{"type": ""}, func(t *testing.T, r *Record) { assert.Equal(t, TypeGeneral, r.Type) }},
		{"unknown type kept", Raw{"type": "calibration_due"}, func(t *testing.T, r *Record) {
			assert.Equal(t, Type("CALIBRATION_DUE"), r.Type)
			assert.Equal(t, "Notification", r.Title, "unknown types use the default label")
		}},
		{"missing title uses label", Raw{"type": "STOCK_CRITICAL"}, func(t *testing.T, r *Record) {
			assert.Equal(t, "Stock critique", r.Title)
		}},
		{"html message", Raw{"message": "Stock <b>bas</b>"}, func(t *testing.T, r *Record) {
			assert.Equal(t, "Stock bas", r.Message)
		}},
		{"source from payload", Raw{"source": "api"}, func(t *testing.T, r *Record) { assert.Equal(t, SourceAPI, r.Source) }},
		{"source defaults local", Raw{}, func(t *testing.T, r *Record) { assert.Equal(t, SourceLocal, r.Source) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, mustNormalize(t, tt.raw))
		})
	}
}

func TestNormalizePriorityDefaultsToNormal(t *testing.T) {
	t.Parallel()

	inputs := []Raw{
		{},
		{"type": "STOCK_CRITICAL"},
		{"type": "URGENT_REPAIR", "title": "x"},
		{"priority": ""},
		{"priority": nil},
		{"priority": "whatever"},
		{"priority": 7.0},
	}
	for _, raw := range inputs {
		assert.Equal(t, PriorityNormal, mustNormalize(t, raw).Priority, "raw=%v", raw)
	}
}

func TestNormalizePriorityFromType(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizeOptions{PriorityFromType: true})

	rec, err := n.Normalize(Raw{"type": "STOCK_CRITICAL"})
	require.NoError(t, err)
	assert.Equal(t, PriorityCritical, rec.Priority)

	rec, err = n.Normalize(Raw{"type": "SYSTEM_UPDATE", "priority": "high"})
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, rec.Priority, "explicit priority wins")
}

func TestNormalizeTimestamps(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 12, 9, 15, 30, 0, time.Local)
	millis := want.UnixMilli()

	tests := []struct {
		name string
		raw  Raw
	}{
		{"epoch millis float", Raw{"createdAt": float64(millis)}},
		{"epoch millis int", Raw{"timestamp": millis}},
		{"numeric string", Raw{"createdAt": "1773303330000"}},
		{"rfc3339", Raw{"createdAt": want.Format(time.RFC3339)}},
		{"zone-less local", Raw{"dateCreation": "2026-03-12T09:15:30"}},
		{"space separated", Raw{"date": "2026-03-12 09:15:30"}},
		{"array of parts", Raw{"createdAt": []any{2026.0, 3.0, 12.0, 9.0, 15.0, 30.0}}},
		{"time value", Raw{"createdAt": want}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := mustNormalize(t, tt.raw)
			if tt.name == "numeric string" {
				assert.Equal(t, time.UnixMilli(1773303330000).Round(0), rec.Timestamp)
				return
			}
			assert.True(t, want.Equal(rec.Timestamp), "got %v", rec.Timestamp)
		})
	}

	t.Run("missing uses clock", func(t *testing.T) {
		t.Parallel()
		assert.True(t, testNow.Equal(mustNormalize(t, Raw{}).Timestamp))
		assert.True(t, testNow.Equal(mustNormalize(t, Raw{"createdAt": "yesterday"}).Timestamp))
	})
}

func TestNormalizeGeneratesUniqueIDs(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for range 500 {
		rec, err := Normalize(Raw{"title": "no id"})
		require.NoError(t, err)
		require.NotEmpty(t, rec.ID)
		require.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true
	}
}

func TestNormalizeLiftsMetadata(t *testing.T) {
	t.Parallel()

	rec := mustNormalize(t, Raw{
		"metadata":   map[string]any{"stockLevel": 2.0, "tags": []any{"kept"}},
		"actions":    []any{"view_stock", map[string]any{"id": "order_now", "label": "Commander", "url": "/orders/new"}},
		"targetRole": "TECHNICIEN",
		"tags":       []any{"ignored"},
	})

	assert.Equal(t, 2.0, rec.Metadata["stockLevel"])
	assert.Equal(t, []any{"kept"}, rec.Metadata["tags"], "explicit metadata wins over lifted keys")
	assert.Equal(t, []string{"TECHNICIEN"}, rec.TargetRoles())
	assert.Equal(t, []Action{
		{ID: "view_stock", Label: "view_stock"},
		{ID: "order_now", Label: "Commander", Target: "/orders/new"},
	}, rec.Actions())
}

func TestNormalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []Raw{
		{},
		{"id": 17.0, "titre": "Stock", "body": "<i>faible</i>", "priorite": "urgent", "read": 1.0},
		{"_id": "x", "type": "stock_alert", "timestamp": "2026-01-02T03:04:05Z", "projectName": "P"},
		{"notificationId": "n", "createdAt": []any{2025.0, 12.0, 31.0}, "actions": []any{"a"}, "roles": []any{"CHEF"}},
		{"title": "t", "persistent": true, "metadata": map[string]any{"nested": map[string]any{"k": "v"}}},
		{"subject": "s", "severity": "info", "lu": "false", "source": "api"},
		{"message": "<b>Stock</b> &lt;i&gt;bas&lt;/i&gt;"},
		{"message": "&amp;lt;b&amp;gt;x&amp;lt;/b&amp;gt; <p>y</p>"},
	}

	for _, raw := range inputs {
		first := mustNormalize(t, raw)
		second := mustNormalize(t, first.Raw())
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("normalizing %v twice changed the record (-first +second):\n%s", raw, diff)
		}
	}
}

func TestNormalizeJSON(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizeOptions{Clock: newFakeClock(testNow)})

	rec, err := n.NormalizeJSON(SourceSocket, []byte(`{"id": 1234, "title": "Stock faible", "priority": "HIGH", "createdAt": 1773303330000, "metadata": {"qty": 3}}`))
	require.NoError(t, err)
	assert.Equal(t, "1234", rec.ID)
	assert.Equal(t, SourceSocket, rec.Source)
	assert.Equal(t, time.UnixMilli(1773303330000).Round(0), rec.Timestamp)

	again, err := n.NormalizeFrom("", rec.Raw())
	require.NoError(t, err)
	assert.Equal(t, rec, again)

	for _, bad := range []string{``, `not json`, `[1,2]`, `"text"`} {
		_, err := n.NormalizeJSON(SourceSocket, []byte(bad))
		require.Error(t, err, "input %q", bad)
		assert.True(t, errors.IsCategory(err, errors.CategoryPayload))
	}
}

func TestNormalizeBatch(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizeOptions{Clock: newFakeClock(testNow)})

	t.Run("array with a bad item", func(t *testing.T) {
		t.Parallel()
		recs, errs := n.NormalizeBatch(SourceAPI, []byte(`[{"id":"a"}, 5, {"id":"b","read":true}]`))
		require.Len(t, recs, 2)
		require.Len(t, errs, 1)
		assert.Equal(t, "a", recs[0].ID)
		assert.True(t, recs[1].IsRead)
		assert.Equal(t, SourceAPI, recs[1].Source)
	})

	t.Run("wrapped", func(t *testing.T) {
		t.Parallel()
		for _, body := range []string{`{"notifications":[{"id":"a"}]}`, `{"data":[{"id":"a"}]}`, `{"content":[{"id":"a"}]}`} {
			recs, errs := n.NormalizeBatch(SourceAPI, []byte(body))
			assert.Empty(t, errs, body)
			require.Len(t, recs, 1, body)
		}
	})

	t.Run("empty array", func(t *testing.T) {
		t.Parallel()
		recs, errs := n.NormalizeBatch(SourceAPI, []byte(`[]`))
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
		assert.Empty(t, errs)
	})

	t.Run("undecodable", func(t *testing.T) {
		t.Parallel()
		recs, errs := n.NormalizeBatch(SourceAPI, []byte(`{"items": 3}`))
		assert.Nil(t, recs)
		require.Len(t, errs, 1)
		assert.True(t, errors.IsCategory(errs[0], errors.CategoryPayload))
	})
}

func TestNormalizeMessageMarkup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Stock < 5 units", "Stock < 5 units"},
		{"tags stripped", "<b>Stock</b> faible", "Stock faible"},
		{"escaped tags do not survive", "<b>Stock</b> &lt;i&gt;bas&lt;/i&gt;", "Stock bas"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := mustNormalize(t, Raw{"message": tt.in})
			assert.Equal(t, tt.want, rec.Message)
			assert.NotRegexp(t, markupPattern, rec.Message)
		})
	}
}

func TestNormalizeJSONKeepsNumberPrecision(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(NormalizeOptions{Clock: newFakeClock(testNow)})

	rec, err := n.NormalizeJSON(SourceSocket, []byte(`{"id": 9007199254740993, "title": "x", "read": 1}`))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740993", rec.ID)
	assert.True(t, rec.IsRead)

	_, err = n.NormalizeJSON(SourceSocket, []byte(`[1, 2]`))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryPayload))

	recs, errs := n.NormalizeBatch(SourceAPI, []byte(`{"data": [{"id": 12345678901234567, "title": "a"}]}`))
	assert.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "12345678901234567", recs[0].ID)
}
