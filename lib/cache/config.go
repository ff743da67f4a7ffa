// Copyright (C) 2025 The Gridlink Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package cache

import "time"

// Config holds the per-cache tunables. Zero values mean the documented
// defaults; util.SetDefaults applies them from the tags.
type Config struct {
	// HighUnits is the size bound. Zero means unlimited. When a mutation
	// pushes the total cost past it, eviction prunes down to
	// floor(HighUnits * PruneLevel).
	HighUnits  int64   `xml:"highUnits" default:"0"`
	PruneLevel float64 `xml:"pruneLevel" default:"0.75"`

	// ExpiryMillis is the default entry lifetime. Zero disables expiry for
	// entries that do not request one explicitly.
	ExpiryMillis int `xml:"expiryMillis" default:"0"`

	// EvictionPolicy is one of lru, lfu, hybrid or external.
	EvictionPolicy string `xml:"evictionPolicy" default:"hybrid"`

	// UnitCalculator is one of fixed, binary or external.
	UnitCalculator string `xml:"unitCalculator" default:"fixed"`

	// NearFrontSize is the front map capacity for near caches only.
	NearFrontSize int `xml:"nearFrontSize" default:"0"`
}

func (c Config) DefaultExpiry() time.Duration {
	return time.Duration(c.ExpiryMillis) * time.Millisecond
}

// LowUnits is the prune target.
func (c Config) LowUnits() int64 {
	if c.HighUnits <= 0 {
		return 0
	}
	level := c.PruneLevel
	if level <= 0 || level >= 1 {
		level = 0.75
	}
	return int64(float64(c.HighUnits) * level)
}
