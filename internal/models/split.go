// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package models

// Split statuses
const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
)

// Matcher types referencing segment data
const (
	MatcherInSegment      = "IN_SEGMENT"
	MatcherInLargeSegment = "IN_LARGE_SEGMENT"
	MatcherWhitelist      = "WHITELIST"
	MatcherAllKeys        = "ALL_KEYS"
)

// Condition types
const (
	ConditionWhitelist = "WHITELIST"
	ConditionRollout   = "ROLLOUT"
)

// Split is a feature flag definition as served by /splitChanges.
// Evaluation semantics live outside this module; the sync engine only
// inspects status, sets and segment references.
type Split struct {
	Name                  string            `json:"name"`
	TrafficTypeName       string            `json:"trafficTypeName,omitempty"`
	Status                string            `json:"status"`
	Killed                bool              `json:"killed"`
	DefaultTreatment      string            `json:"defaultTreatment"`
	ChangeNumber          int64             `json:"changeNumber"`
	Seed                  int64             `json:"seed,omitempty"`
	TrafficAllocation     int               `json:"trafficAllocation,omitempty"`
	TrafficAllocationSeed int64             `json:"trafficAllocationSeed,omitempty"`
	Algo                  int               `json:"algo,omitempty"`
	Conditions            []Condition       `json:"conditions"`
	Configurations        map[string]string `json:"configurations,omitempty"`
	Sets                  []string          `json:"sets,omitempty"`
}

// Condition is one targeting rule of a split.
type Condition struct {
	ConditionType string       `json:"conditionType"`
	MatcherGroup  MatcherGroup `json:"matcherGroup"`
	Partitions    []Partition  `json:"partitions"`
	Label         string       `json:"label"`
}

// MatcherGroup combines matchers of a condition.
type MatcherGroup struct {
	Combiner string    `json:"combiner"`
	Matchers []Matcher `json:"matchers"`
}

// Matcher is a single predicate. Only the fields used by the sync engine
// and the offline mode are modelled.
type Matcher struct {
	MatcherType                        string                              `json:"matcherType"`
	Negate                             bool                                `json:"negate"`
	KeySelector                        *KeySelector                        `json:"keySelector,omitempty"`
	UserDefinedSegmentMatcherData      *UserDefinedSegmentMatcherData      `json:"userDefinedSegmentMatcherData,omitempty"`
	UserDefinedLargeSegmentMatcherData *UserDefinedLargeSegmentMatcherData `json:"userDefinedLargeSegmentMatcherData,omitempty"`
	WhitelistMatcherData               *WhitelistMatcherData               `json:"whitelistMatcherData,omitempty"`
}

// KeySelector selects the attribute a matcher applies to.
type KeySelector struct {
	TrafficType string  `json:"trafficType"`
	Attribute   *string `json:"attribute"`
}

// UserDefinedSegmentMatcherData references a segment by name.
type UserDefinedSegmentMatcherData struct {
	SegmentName string `json:"segmentName"`
}

// UserDefinedLargeSegmentMatcherData references a large segment by name.
type UserDefinedLargeSegmentMatcherData struct {
	LargeSegmentName string `json:"largeSegmentName"`
}

// WhitelistMatcherData lists explicit keys.
type WhitelistMatcherData struct {
	Whitelist []string `json:"whitelist"`
}

// Partition assigns a share of traffic to a treatment.
type Partition struct {
	Treatment string `json:"treatment"`
	Size      int    `json:"size"`
}

// IsActive reports whether the split should be kept in storage.
func (s *Split) IsActive() bool {
	return s.Status == StatusActive
}

// SegmentNames returns the segments referenced by IN_SEGMENT matchers.
func (s *Split) SegmentNames() []string {
	return s.referencedNames(func(m *Matcher) string {
		if m.MatcherType == MatcherInSegment && m.UserDefinedSegmentMatcherData != nil {
			return m.UserDefinedSegmentMatcherData.SegmentName
		}
		return ""
	})
}

// LargeSegmentNames returns the large segments referenced by IN_LARGE_SEGMENT matchers.
func (s *Split) LargeSegmentNames() []string {
	return s.referencedNames(func(m *Matcher) string {
		if m.MatcherType == MatcherInLargeSegment && m.UserDefinedLargeSegmentMatcherData != nil {
			return m.UserDefinedLargeSegmentMatcherData.LargeSegmentName
		}
		return ""
	})
}

func (s *Split) referencedNames(pick func(*Matcher) string) []string {
	var names []string
	seen := make(map[string]struct{})
	for i := range s.Conditions {
		matchers := s.Conditions[i].MatcherGroup.Matchers
		for j := range matchers {
			name := pick(&matchers[j])
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// UsesSegments reports whether any condition references a segment or large segment.
func (s *Split) UsesSegments() bool {
	return len(s.SegmentNames()) > 0 || len(s.LargeSegmentNames()) > 0
}

// InSets reports whether the split belongs to at least one of the given flag sets.
func (s *Split) InSets(sets []string) bool {
	for _, want := range sets {
		for _, have := range s.Sets {
			if have == want {
				return true
			}
		}
	}
	return false
}

// SplitChanges is a page returned by /splitChanges.
type SplitChanges struct {
	Splits []Split `json:"splits"`
	Since  int64   `json:"since"`
	Till   int64   `json:"till"`
}

// SegmentChanges is a page returned by /segmentChanges/{name}.
type SegmentChanges struct {
	Name    string   `json:"name"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Since   int64    `json:"since"`
	Till    int64    `json:"till"`
}

// MembershipName is one entry of a membership list.
type MembershipName struct {
	Name string `json:"n"`
}

// MembershipList is the set of segments a key belongs to, stamped with a
// change number when the control plane provides one.
type MembershipList struct {
	Keys         []MembershipName `json:"k"`
	ChangeNumber *int64           `json:"cn,omitempty"`
}

// Names returns the segment names of the list.
func (l *MembershipList) Names() []string {
	names := make([]string, 0, len(l.Keys))
	for _, k := range l.Keys {
		names = append(names, k.Name)
	}
	return names
}

// Memberships is the response of /memberships/{key}.
type Memberships struct {
	MySegments    MembershipList `json:"ms"`
	LargeSegments MembershipList `json:"ls"`
}
