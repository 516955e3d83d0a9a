package routing

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"gateway/pkg/changefeed"
	"gateway/pkg/registry"
)

// Tags are the ownership tags inferred from a record's payload
type Tags struct {
	PlayerIDs  []string
	FactionIDs []string
}

// Empty reports whether the record names no owner at all.
func (t Tags) Empty() bool {
	return len(t.PlayerIDs) == 0 && len(t.FactionIDs) == 0
}

// Matches reports whether id owns the record by player or by faction.
// A connection matching both still yields a single true.
func (t Tags) Matches(id registry.Identity) bool {
	if id.PlayerID != "" && contains(t.PlayerIDs, id.PlayerID) {
		return true
	}
	return id.FactionID != "" && contains(t.FactionIDs, id.FactionID)
}

// Route is the delivery decision for one record, computed once and then
// evaluated against every connection view in a dispatch cycle.
type Route struct {
	topic   string
	known   bool
	public  bool
	// unowned records of a PublicWhenUnowned topic go to any authenticated subscriber
	unowned bool
	tags    Tags
}

// Topic returns the record topic.
func (rt Route) Topic() string { return rt.topic }

// Public reports whether every subscriber receives the record.
func (rt Route) Public() bool { return rt.public }

// Tags returns the inferred ownership tags.
func (rt Route) Tags() Tags { return rt.tags }

// Allows reports whether the connection captured in v may receive the record.
func (rt Route) Allows(v registry.View) bool {
	if !rt.known || !v.Subscribed(rt.topic) {
		return false
	}
	if rt.public {
		return true
	}
	id, ok := v.Identity()
	if !ok {
		return false
	}
	return rt.unowned || rt.tags.Matches(id)
}

// Filter applies a Policy to change records
type Filter struct {
	policy Policy
}

// NewFilter creates a filter for the given policy
func NewFilter(p Policy) *Filter {
	return &Filter{policy: p}
}

// Policy returns the filter's policy.
func (f *Filter) Policy() Policy { return f.policy }

// Route classifies a record under the policy.
func (f *Filter) Route(rec changefeed.Record) Route {
	rule, ok := f.policy.Rule(rec.Topic)
	if !ok {
		return Route{topic: rec.Topic}
	}

	rt := Route{topic: rec.Topic, known: true}
	if rule.Visibility == Public {
		rt.public = true
		return rt
	}

	rt.tags = ExtractTags(rec, rule)
	if rule.PublicWhenUnowned && rt.tags.Empty() {
		rt.unowned = true
	}
	return rt
}

// ShouldDeliver is the per-pair decision: subscribed to the topic, and the
// topic is public or the authenticated identity owns the record.
func (f *Filter) ShouldDeliver(v registry.View, rec changefeed.Record) bool {
	return f.Route(rec).Allows(v)
}

// ExtractTags collects ownership ids from the rule's player and faction fields.
func ExtractTags(rec changefeed.Record, rule Rule) Tags {
	return Tags{
		PlayerIDs:  collectIDs(rec, rule.PlayerFields),
		FactionIDs: collectIDs(rec, rule.FactionFields),
	}
}

func collectIDs(rec changefeed.Record, fields []string) []string {
	var ids []string
	for _, f := range fields {
		v, ok := rec.Field(f)
		if !ok {
			continue
		}
		if id, ok := NormalizeID(v); ok && !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// NormalizeID turns a JSON id (number or string) into its comparable string
// form. Empty strings, null, booleans and objects are not ids.
func NormalizeID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case json.Number:
		return normalizeNumber(id.String())
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	default:
		return "", false
	}
}

// normalizeNumber maps 7, 7.0 and 7e0 to "7" while leaving large integers exact.
func normalizeNumber(s string) (string, bool) {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return s, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
