package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValueUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		accepts []string
		rejects []string
		wantErr bool
	}{
		{
			name:    "scalar predicate",
			input:   `"US"`,
			accepts: []string{"US"},
			rejects: []string{"UK", ""},
		},
		{
			name:    "list predicate",
			input:   `["US","UK"]`,
			accepts: []string{"US", "UK"},
			rejects: []string{"DE", ""},
		},
		{
			name:    "empty list accepts nothing",
			input:   `[]`,
			rejects: []string{"US", ""},
		},
		{
			name:    "non-string value is rejected",
			input:   `42`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v MetadataValue
			err := json.Unmarshal([]byte(tt.input), &v)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, value := range tt.accepts {
				assert.True(t, v.Contains(value), "expected %q to be accepted", value)
			}
			for _, value := range tt.rejects {
				assert.False(t, v.Contains(value), "expected %q to be rejected", value)
			}
		})
	}
}

func TestMetadataValueMarshalRoundTrip(t *testing.T) {
	scalar, err := json.Marshal(NewMetadataValue("US"))
	require.NoError(t, err)
	assert.Equal(t, `"US"`, string(scalar))

	list, err := json.Marshal(NewMetadataValues("US", "UK"))
	require.NoError(t, err)
	assert.Equal(t, `["US","UK"]`, string(list))
}

func TestSavedSearchMatches(t *testing.T) {
	tests := []struct {
		name     string
		search   SavedSearch
		agentID  string
		metadata map[string]string
		want     bool
	}{
		{
			name:    "no predicates matches everything",
			search:  SavedSearch{},
			agentID: "agent-1",
			want:    true,
		},
		{
			name: "list predicate accepts member",
			search: SavedSearch{
				Metadata: map[string]MetadataValue{"region": NewMetadataValues("US", "UK")},
			},
			metadata: map[string]string{"region": "US"},
			want:     true,
		},
		{
			name: "list predicate rejects non-member",
			search: SavedSearch{
				Metadata: map[string]MetadataValue{"region": NewMetadataValues("US", "UK")},
			},
			metadata: map[string]string{"region": "DE"},
			want:     false,
		},
		{
			name: "missing call metadata key fails the predicate",
			search: SavedSearch{
				Metadata: map[string]MetadataValue{"region": NewMetadataValue("US")},
			},
			metadata: map[string]string{"tier": "gold"},
			want:     false,
		},
		{
			name: "all predicates must hold",
			search: SavedSearch{
				Metadata: map[string]MetadataValue{
					"region": NewMetadataValue("US"),
					"tier":   NewMetadataValue("gold"),
				},
			},
			metadata: map[string]string{"region": "US", "tier": "silver"},
			want:     false,
		},
		{
			name:    "empty agent list means all agents",
			search:  SavedSearch{AgentIDs: nil},
			agentID: "agent-7",
			want:    true,
		},
		{
			name:    "agent allow-list accepts listed agent",
			search:  SavedSearch{AgentIDs: []string{"agent-1", "agent-2"}},
			agentID: "agent-2",
			want:    true,
		},
		{
			name:    "agent allow-list rejects unlisted agent",
			search:  SavedSearch{AgentIDs: []string{"agent-1"}},
			agentID: "agent-3",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.search.Matches(tt.agentID, tt.metadata))
		})
	}
}

func TestEnabledGroups(t *testing.T) {
	shared := EvaluationGroup{ID: "g1", Enabled: true}
	searches := []SavedSearch{
		{ID: "s1", Groups: []EvaluationGroup{shared, {ID: "g2", Enabled: false}}},
		{ID: "s2", Groups: []EvaluationGroup{shared, {ID: "g3", Enabled: true}}},
	}

	groups := EnabledGroups(searches)

	require.Len(t, groups, 2)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "g3", groups[1].ID)
}
