package routing

import (
	"fmt"
	"sort"
)

// Visibility classifies a topic for delivery
type Visibility string

const (
	// Public topics go to every subscribed connection.
	Public Visibility = "public"
	// Owner topics go only to the player or faction named in the record.
	Owner Visibility = "owner"
)

// Rule is the delivery rule for one topic
type Rule struct {
	Topic         string
	Visibility    Visibility
	PlayerFields  []string
	FactionFields []string
	// PublicWhenUnowned shows an owner-scoped record that carries no
	// ownership tag to every authenticated subscriber (e.g. an open
	// marketplace listing). Unauthenticated connections still never see it.
	PublicWhenUnowned bool
}

// Policy is the per-instance set of topic rules
type Policy struct {
	rules map[string]Rule
}

// NewPolicy validates rules and fills field defaults.
func NewPolicy(rules []Rule) (Policy, error) {
	p := Policy{rules: make(map[string]Rule, len(rules))}

	for i, r := range rules {
		if r.Topic == "" {
			return Policy{}, fmt.Errorf("rule %d: topic is required", i)
		}
		if _, dup := p.rules[r.Topic]; dup {
			return Policy{}, fmt.Errorf("rule %d: duplicate topic %q", i, r.Topic)
		}
		switch r.Visibility {
		case Public, Owner:
		case "":
			r.Visibility = Owner
		default:
			return Policy{}, fmt.Errorf("topic %q: unknown visibility %q", r.Topic, r.Visibility)
		}
		if len(r.PlayerFields) == 0 {
			r.PlayerFields = []string{"player_id"}
		}
		if len(r.FactionFields) == 0 {
			r.FactionFields = []string{"faction_id"}
		}
		p.rules[r.Topic] = r
	}

	if len(p.rules) == 0 {
		return Policy{}, fmt.Errorf("at least one topic rule is required")
	}
	return p, nil
}

// Rule returns the rule for topic.
func (p Policy) Rule(topic string) (Rule, bool) {
	r, ok := p.rules[topic]
	return r, ok
}

// Topics returns every configured topic, sorted. This is the broker
// subscription list for the instance.
func (p Policy) Topics() []string {
	out := make([]string, 0, len(p.rules))
	for t := range p.rules {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
