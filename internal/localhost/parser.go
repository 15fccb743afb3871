// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package localhost

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/models"
)

// Control is the treatment of features without a default entry.
const Control = "control"

// trafficType is assigned to every offline split.
const trafficType = "user"

// ErrNoSplitFile is returned when no flag file is configured.
var ErrNoSplitFile = errors.New("localhost: no split file configured")

// Entry is one treatment assignment of a feature. An entry without keys is
// the feature's default rule.
type Entry struct {
	Treatment string
	Keys      []string
	Config    string
}

// ParseFile reads a YAML flag file. Each top-level key is a feature name
// mapping to one entry or a list of entries:
//
//	my_feature:
//	  treatment: "on"
//	  keys: ["user-1", "user-2"]
//	  config: '{"color": "blue"}'
//	other_feature:
//	  - treatment: "off"
//	  - treatment: "on"
//	    keys: "beta-user"
//
// Malformed entries are logged and skipped.
func ParseFile(path string) (map[string][]Entry, error) {
	if path == "" {
		return nil, ErrNoSplitFile
	}

	// Feature names may contain dots; use a delimiter they cannot contain.
	k := koanf.New("::")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load split file %s: %w", path, err)
	}

	features := make(map[string][]Entry)
	for name, raw := range k.Raw() {
		var items []interface{}
		switch v := raw.(type) {
		case []interface{}:
			items = v
		default:
			items = []interface{}{v}
		}

		entries := make([]Entry, 0, len(items))
		for _, item := range items {
			entry, err := parseEntry(item)
			if err != nil {
				logging.Warn().
					Str("component", "localhost").
					Str("feature", name).
					Err(err).
					Msg("Skipping malformed split file entry")
				continue
			}
			entries = append(entries, entry)
		}
		if len(entries) > 0 {
			features[name] = entries
		}
	}
	return features, nil
}

func parseEntry(item interface{}) (Entry, error) {
	fields, ok := item.(map[string]interface{})
	if !ok {
		return Entry{}, fmt.Errorf("entry must be a mapping, got %T", item)
	}

	var entry Entry
	treatment, ok := fields["treatment"].(string)
	if !ok || strings.TrimSpace(treatment) == "" {
		return Entry{}, errors.New("treatment is required")
	}
	entry.Treatment = treatment

	switch keys := fields["keys"].(type) {
	case nil:
	case string:
		entry.Keys = []string{keys}
	case []interface{}:
		for _, key := range keys {
			entry.Keys = append(entry.Keys, fmt.Sprint(key))
		}
	default:
		entry.Keys = []string{fmt.Sprint(keys)}
	}

	switch config := fields["config"].(type) {
	case nil:
	case string:
		entry.Config = config
	default:
		// Structured YAML config is re-encoded as the JSON string the
		// control plane would serve.
		b, err := json.Marshal(config)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid config: %w", err)
		}
		entry.Config = string(b)
	}
	return entry, nil
}

// BuildSplits converts parsed features into ACTIVE splits stamped with
// changeNumber, sorted by name. Keyed entries become whitelist conditions
// in file order; the last entry without keys becomes the default rollout.
func BuildSplits(features map[string][]Entry, changeNumber int64) []models.Split {
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	splits := make([]models.Split, 0, len(names))
	for _, name := range names {
		splits = append(splits, buildSplit(name, features[name], changeNumber))
	}
	return splits
}

func buildSplit(name string, entries []Entry, changeNumber int64) models.Split {
	split := models.Split{
		Name:                  name,
		TrafficTypeName:       trafficType,
		Status:                models.StatusActive,
		DefaultTreatment:      Control,
		ChangeNumber:          changeNumber,
		Seed:                  1,
		TrafficAllocation:     100,
		TrafficAllocationSeed: 1,
		Algo:                  2,
	}

	var rollout *Entry
	for i := range entries {
		entry := &entries[i]
		if entry.Config != "" {
			if split.Configurations == nil {
				split.Configurations = make(map[string]string)
			}
			split.Configurations[entry.Treatment] = entry.Config
		}
		if len(entry.Keys) == 0 {
			rollout = entry
			continue
		}
		split.Conditions = append(split.Conditions, models.Condition{
			ConditionType: models.ConditionWhitelist,
			MatcherGroup: models.MatcherGroup{
				Combiner: "AND",
				Matchers: []models.Matcher{{
					MatcherType:          models.MatcherWhitelist,
					WhitelistMatcherData: &models.WhitelistMatcherData{Whitelist: entry.Keys},
				}},
			},
			Partitions: []models.Partition{{Treatment: entry.Treatment, Size: 100}},
			Label:      "whitelisted",
		})
	}

	if rollout != nil {
		split.DefaultTreatment = rollout.Treatment
		split.Conditions = append(split.Conditions, models.Condition{
			ConditionType: models.ConditionRollout,
			MatcherGroup: models.MatcherGroup{
				Combiner: "AND",
				Matchers: []models.Matcher{{
					MatcherType: models.MatcherAllKeys,
					KeySelector: &models.KeySelector{TrafficType: trafficType},
				}},
			},
			Partitions: []models.Partition{{Treatment: rollout.Treatment, Size: 100}},
			Label:      "default rule",
		})
	}
	return split
}
