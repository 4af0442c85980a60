// Tilevault - Spatial Tile Distribution for Geospatial Datasets
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package api provides the HTTP surface of the tile server: discovery,
// file and batch delivery, token issuance, and access-request intake,
// routed with Chi.
package api

import (
	"sync"

	"github.com/tomtom215/tilevault/internal/atlas"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/registry"
)

// Dataset is one served dataset: its registration plus the loaded atlas
// index. A dataset whose atlas failed to load stays registered but
// unavailable; its endpoints report that while other datasets keep serving.
type Dataset struct {
	registry.Dataset
	Index   *atlas.Index
	LoadErr error
}

// Available reports whether the dataset can answer queries.
func (d *Dataset) Available() bool {
	return d.LoadErr == nil && d.Index != nil
}

// DatasetSet is the name-keyed collection of served datasets. Indexes are
// read-only after load; a reload builds a fresh Dataset and swaps the
// pointer under the lock.
type DatasetSet struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewDatasetSet returns an empty dataset collection.
func NewDatasetSet() *DatasetSet {
	return &DatasetSet{datasets: make(map[string]*Dataset)}
}

// LoadDatasets loads every registered dataset's atlas. Load failures are
// recorded per dataset, not fatal.
func LoadDatasets(reg *registry.Registry) *DatasetSet {
	set := NewDatasetSet()
	for _, name := range reg.Names() {
		rd, _ := reg.Get(name)
		d := &Dataset{Dataset: rd}
		d.Index, d.LoadErr = atlas.Load(rd.AtlasPath, rd.Kind)
		if d.LoadErr != nil {
			logging.Error().Err(d.LoadErr).Str("dataset", name).Msg("dataset unavailable: atlas failed to load")
		} else {
			logging.Info().Str("dataset", name).Int("tiles", d.Index.Len()).Msg("atlas loaded")
		}
		set.datasets[name] = d
	}
	return set
}

// Get looks up a dataset by name.
func (s *DatasetSet) Get(name string) (*Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.datasets[name]
	return d, ok
}

// Names returns the served dataset names.
func (s *DatasetSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.datasets))
	for name := range s.datasets {
		names = append(names, name)
	}
	return names
}

// Put registers or replaces a dataset. Used by tests and hot reloads.
func (s *DatasetSet) Put(d *Dataset) {
	s.mu.Lock()
	s.datasets[d.Name] = d
	s.mu.Unlock()
}
