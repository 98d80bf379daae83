// Package notification is the real-time notification core of the maintenance
// console: it receives pushes over a persistent channel, normalizes payloads
// from every source into one Record shape, decides admission and effects per
// priority, and keeps the ordered Store that list and toast views read from.
package notification

import (
	"maps"
	"time"

	"github.com/mainthub/notifier/internal/errors"
)

// Type is the business category of a notification. The set is open-ended;
// unknown values resolve to the GENERAL profile.
type Type string

const (
	TypeStockCritical        Type = "STOCK_CRITICAL"
	TypeStockLow             Type = "STOCK_LOW"
	TypeOrderReceived        Type = "ORDER_RECEIVED"
	TypeMaintenanceDue       Type = "MAINTENANCE_DUE"
	TypeSystemUpdate         Type = "SYSTEM_UPDATE"
	TypeSubProjectCreated    Type = "SOUS_PROJET_CREATED"
	TypeComponentOrder       Type = "COMPONENT_ORDER"
	TypeStockAlert           Type = "STOCK_ALERT"
	TypeUrgentRepair         Type = "URGENT_REPAIR"
	TypeInterventionAssigned Type = "INTERVENTION_ASSIGNED"
	TypeTesterAssigned       Type = "TESTER_ASSIGNED"
	TypeGeneral              Type = "GENERAL"
)

// Priority is one of four urgency buckets.
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

// Rank orders priorities for sorting; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the four buckets.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Source records where a notification entered the system.
type Source string

const (
	SourceAPI    Source = "api"    // full reload from the REST backend
	SourceSocket Source = "socket" // push over the channel
	SourceLocal  Source = "local"  // demo fixtures and offline sends
)

// Metadata keys with meaning to the core
const (
	MetadataKeyActions    = "actions"
	MetadataKeyRoles      = "roles"
	MetadataKeyTargetRole = "targetRole"
	MetadataKeyTags       = "tags"
)

// Sentinel errors for notification operations
var (
	ErrNotificationNotFound = errors.NewStd("notification not found")
	ErrNotConnected         = errors.NewStd("channel is not connected")
	ErrUnknownAction        = errors.NewStd("notification has no such action")
	ErrServiceStopped       = errors.NewStd("notification service is stopped")
)

// TypeProfile holds display defaults for a Type.
type TypeProfile struct {
	Label    string
	Priority Priority // used only when the payload has no priority and type-derived priorities are enabled
}

var typeProfiles = map[Type]TypeProfile{
	TypeStockCritical:        {Label: "Stock critique", Priority: PriorityCritical},
	TypeStockLow:             {Label: "Stock faible", Priority: PriorityHigh},
	TypeOrderReceived:        {Label: "Commande reçue", Priority: PriorityNormal},
	TypeMaintenanceDue:       {Label: "Maintenance prévue", Priority: PriorityHigh},
	TypeSystemUpdate:         {Label: "Mise à jour système", Priority: PriorityLow},
	TypeSubProjectCreated:    {Label: "Sous-projet créé", Priority: PriorityNormal},
	TypeComponentOrder:       {Label: "Commande de composant", Priority: PriorityNormal},
	TypeStockAlert:           {Label: "Alerte stock", Priority: PriorityHigh},
	TypeUrgentRepair:         {Label: "Réparation urgente", Priority: PriorityCritical},
	TypeInterventionAssigned: {Label: "Intervention assignée", Priority: PriorityHigh},
	TypeTesterAssigned:       {Label: "Testeur assigné", Priority: PriorityNormal},
	TypeGeneral:              {Label: "Notification", Priority: PriorityNormal},
}

// ProfileFor returns the profile of t, or the GENERAL profile for unknown types.
func ProfileFor(t Type) TypeProfile {
	if p, ok := typeProfiles[t]; ok {
		return p
	}
	return typeProfiles[TypeGeneral]
}

// KnownTypes lists the built-in types in declaration order.
func KnownTypes() []Type {
	return []Type{
		TypeStockCritical, TypeStockLow, TypeOrderReceived, TypeMaintenanceDue,
		TypeSystemUpdate, TypeSubProjectCreated, TypeComponentOrder, TypeStockAlert,
		TypeUrgentRepair, TypeInterventionAssigned, TypeTesterAssigned,
	}
}

// Record is the canonical notification. Every component past the Normalizer
// sees only this shape.
type Record struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Type       Type           `json:"type"`
	Priority   Priority       `json:"priority"`
	IsRead     bool           `json:"isRead"`
	Timestamp  time.Time      `json:"createdAt"`
	Project    string         `json:"project,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Persistent bool           `json:"persistent"`
	Source     Source         `json:"source,omitempty"`
}

// Clone returns a copy that shares no maps with r. Nested metadata values are
// copied one level deep.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			switch vv := v.(type) {
			case map[string]any:
				c.Metadata[k] = maps.Clone(vv)
			case []any:
				c.Metadata[k] = append([]any(nil), vv...)
			case []string:
				c.Metadata[k] = append([]string(nil), vv...)
			default:
				c.Metadata[k] = v
			}
		}
	}
	return &c
}

// Raw renders r back into canonical source keys. Normalize(r.Raw()) reproduces r.
func (r *Record) Raw() Raw {
	raw := Raw{
		"id":         r.ID,
		"title":      r.Title,
		"message":    r.Message,
		"type":       string(r.Type),
		"priority":   string(r.Priority),
		"isRead":     r.IsRead,
		"createdAt":  r.Timestamp,
		"persistent": r.Persistent,
		"source":     string(r.Source),
	}
	if r.Project != "" {
		raw["project"] = r.Project
	}
	if r.Metadata != nil {
		raw["metadata"] = r.Clone().Metadata
	}
	return raw
}

// Actions returns the action identifiers attached to r, in order.
func (r *Record) Actions() []Action {
	list, ok := r.Metadata[MetadataKeyActions].([]any)
	if !ok {
		return nil
	}
	actions := make([]Action, 0, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case string:
			actions = append(actions, Action{ID: v, Label: v})
		case map[string]any:
			a := Action{}
			a.ID, _ = v["id"].(string)
			if a.ID == "" {
				a.ID, _ = v["action"].(string)
			}
			a.Label, _ = v["label"].(string)
			if a.Label == "" {
				a.Label = a.ID
			}
			a.Target, _ = v["url"].(string)
			if a.ID != "" {
				actions = append(actions, a)
			}
		}
	}
	return actions
}

// TargetRoles returns the roles a record is addressed to; empty means everyone.
func (r *Record) TargetRoles() []string {
	var roles []string
	switch v := r.Metadata[MetadataKeyRoles].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
	case []string:
		roles = append(roles, v...)
	case string:
		if v != "" {
			roles = append(roles, v)
		}
	}
	if s, ok := r.Metadata[MetadataKeyTargetRole].(string); ok && s != "" {
		roles = append(roles, s)
	}
	return roles
}

// Action is a user-triggerable action attached to a notification.
type Action struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Target string `json:"target,omitempty"`
}
