package domain

import (
	"encoding/json"
	"fmt"
)

// MetadataValue is one saved-search metadata predicate value: either a
// single string or a list of acceptable strings.
type MetadataValue struct {
	values []string
	scalar bool
}

// NewMetadataValue creates a scalar predicate that matches exactly one value.
func NewMetadataValue(value string) MetadataValue {
	return MetadataValue{values: []string{value}, scalar: true}
}

// NewMetadataValues creates a list predicate that matches any of the values.
func NewMetadataValues(values ...string) MetadataValue {
	return MetadataValue{values: values}
}

// Contains reports whether the predicate accepts the given call metadata
// value. Scalar predicates require equality; list predicates require
// membership.
func (v MetadataValue) Contains(value string) bool {
	for _, candidate := range v.values {
		if candidate == value {
			return true
		}
	}
	return false
}

// Values returns the accepted values. Scalar predicates return one element.
func (v MetadataValue) Values() []string { return v.values }

// UnmarshalJSON accepts both `"US"` and `["US","UK"]` predicate shapes,
// matching how tenants author saved searches.
func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = NewMetadataValue(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = NewMetadataValues(list...)
		return nil
	}
	return fmt.Errorf("metadata predicate must be a string or string list, got %s", data)
}

// MarshalJSON renders scalar predicates as a bare string and list
// predicates as an array.
func (v MetadataValue) MarshalJSON() ([]byte, error) {
	if v.scalar && len(v.values) == 1 {
		return json.Marshal(v.values[0])
	}
	return json.Marshal(v.values)
}

// SavedSearch is a tenant-defined filter binding metadata and agent
// conditions to the evaluation groups it watches and the alerts attached
// to it.
type SavedSearch struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`

	// AgentIDs is an allow-list of agent ids; empty means all agents.
	AgentIDs []string `json:"agentIds"`

	// Metadata holds equality/containment predicates a call's metadata
	// must satisfy, one per key.
	Metadata map[string]MetadataValue `json:"metadata"`

	Groups []EvaluationGroup `json:"groups"`
	Alerts []Alert           `json:"alerts"`
}

// Matches applies the structural filter: every metadata predicate must
// accept the call's value for that key, and the agent allow-list must be
// empty or contain the call's agent id. No model call is involved.
func (s SavedSearch) Matches(agentID string, metadata map[string]string) bool {
	for key, predicate := range s.Metadata {
		if !predicate.Contains(metadata[key]) {
			return false
		}
	}
	if len(s.AgentIDs) == 0 {
		return true
	}
	for _, id := range s.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// MatchingSearches filters searches down to those whose structural filter
// accepts the given call identity.
func MatchingSearches(searches []SavedSearch, agentID string, metadata map[string]string) []SavedSearch {
	var out []SavedSearch
	for _, s := range searches {
		if s.Matches(agentID, metadata) {
			out = append(out, s)
		}
	}
	return out
}

// EnabledGroups collects the enabled evaluation groups referenced by the
// given searches, deduplicated by group id.
func EnabledGroups(searches []SavedSearch) []EvaluationGroup {
	var groups []EvaluationGroup
	for _, s := range searches {
		for _, g := range s.Groups {
			if g.Enabled {
				groups = append(groups, g)
			}
		}
	}
	return DedupeGroups(groups)
}
