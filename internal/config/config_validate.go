// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/validation"
)

// flagSetPattern is the shape of a valid (lowercased) flag set name.
var flagSetPattern = regexp.MustCompile(`^[a-z0-9][_a-z0-9]{0,49}$`)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateCore(); err != nil {
		return err
	}

	return c.validateLocalhost()
}

// validateCore validates the cross-field rules of the selected mode.
func (c *Config) validateCore() error {
	if !c.IsLocalhost() && strings.TrimSpace(c.Core.SDKKey) == "" {
		return fmt.Errorf("core.sdk_key is required unless core.mode=%s", ModeLocalhost)
	}

	if c.IsClientSide() && strings.TrimSpace(c.Core.Key) == "" {
		return fmt.Errorf("core.key is required when core.mode=%s", ModeClient)
	}

	if len(c.Core.SharedKeys) > 0 && c.Core.Mode == ModeServer {
		return fmt.Errorf("core.shared_keys requires core.mode=%s or %s", ModeClient, ModeLocalhost)
	}

	seen := map[string]struct{}{c.Core.Key: {}}
	for _, key := range c.Core.SharedKeys {
		if _, dup := seen[key]; dup {
			return fmt.Errorf("core.shared_keys contains duplicate key %q", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// validateLocalhost validates localhost mode (only if selected)
func (c *Config) validateLocalhost() error {
	if !c.IsLocalhost() {
		return nil
	}

	if c.Localhost.SplitFile == "" {
		return fmt.Errorf("localhost.split_file is required when core.mode=%s", ModeLocalhost)
	}
	if _, err := os.Stat(c.Localhost.SplitFile); err != nil {
		return fmt.Errorf("localhost.split_file is not readable: %w", err)
	}
	return nil
}

// normalize sanitizes values that are corrected rather than rejected.
func (c *Config) normalize() {
	c.Sync.FlagSets = normalizeFlagSets(c.Sync.FlagSets)

	if len(c.Sync.FlagSets) > 0 && len(c.Sync.FlagNames) > 0 {
		logging.Warn().
			Strs("flag_names", c.Sync.FlagNames).
			Msg("sync.flag_names ignored because sync.flag_sets is set")
		c.Sync.FlagNames = nil
	}
}

// normalizeFlagSets trims, lowercases, dedupes and sorts flag sets,
// dropping invalid names with a warning.
func normalizeFlagSets(sets []string) []string {
	if len(sets) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(sets))
	out := make([]string, 0, len(sets))
	for _, set := range sets {
		name := strings.ToLower(strings.TrimSpace(set))
		if !flagSetPattern.MatchString(name) {
			logging.Warn().Str("flag_set", set).Msg("Ignoring invalid flag set name")
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
