// Copyright 2026 The zfssend Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memstore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/snapstream/zfssend/internal/dsl"
)

// This file gives the CLI binaries (cmd/zfssend, cmd/zfsrecv) a way to
// share a Store across separate process invocations despite the real
// pool being an out-of-scope external collaborator (spec §1): a JSON
// snapshot of the whole in-memory Store, loaded at startup and saved
// at exit, the way the teacher's internal/server/observability
// EventStore round-trips its ring buffer through a JSONL file
// (NewEventStore/loadJSONL) rather than anything more elaborate.
// This is scaffolding for demonstration, not a real pool backend.

type objectJSON struct {
	DN    dsl.Dnode `json:"dn"`
	Data  []byte    `json:"data,omitempty"`
	Spill []byte    `json:"spill,omitempty"`
}

type objsetJSON struct {
	ID      uint64                 `json:"id"`
	Kind    uint64                 `json:"kind"`
	NextObj uint64                 `json:"next_obj"`
	Objects map[uint64]objectJSON `json:"objects"`
}

type datasetJSON struct {
	Name              string             `json:"name"`
	ObjsetID          uint64             `json:"objset_id"`
	GUID              uint64             `json:"guid,omitempty"`
	ParentFS          string             `json:"parent_fs,omitempty"`
	IsSnapshot        bool               `json:"is_snapshot,omitempty"`
	Origin            string             `json:"origin,omitempty"`
	Snapshots         []dsl.SnapshotInfo `json:"snapshots,omitempty"`
	Inconsistent      bool               `json:"inconsistent,omitempty"`
	InconsistentSince time.Time          `json:"inconsistent_since,omitempty"`
	Owner             string             `json:"owner,omitempty"`
	CreationTXG       uint64             `json:"creation_txg,omitempty"`
	ModifiedSinceSnap bool               `json:"modified_since_snap,omitempty"`
}

type storeJSON struct {
	Datasets   map[string]datasetJSON `json:"datasets"`
	Objsets    map[uint64]objsetJSON  `json:"objsets"`
	NextObjset uint64                 `json:"next_objset"`
	NextGUID   uint64                 `json:"next_guid"`
	CurrentTXG uint64                 `json:"current_txg"`
	SASpill    bool                   `json:"sa_spill"`
}

// SaveToFile writes the entire Store as a single JSON document to
// path, overwriting any existing file.
func (s *Store) SaveToFile(path string) error {
	s.mu.Lock()
	snap := storeJSON{
		Datasets:   make(map[string]datasetJSON, len(s.datasets)),
		Objsets:    make(map[uint64]objsetJSON, len(s.objsets)),
		NextObjset: s.nextObjset,
		NextGUID:   s.nextGUID,
		CurrentTXG: s.currentTXG,
		SASpill:    s.saSpill,
	}
	for name, ds := range s.datasets {
		snap.Datasets[name] = datasetJSON{
			Name: ds.name, ObjsetID: ds.objsetID, GUID: ds.guid,
			ParentFS: ds.parentFS, IsSnapshot: ds.isSnapshot, Origin: ds.origin,
			Snapshots: ds.snapshots, Inconsistent: ds.inconsistent,
			InconsistentSince: ds.inconsistentSince, Owner: ds.owner,
			CreationTXG: ds.creationTXG, ModifiedSinceSnap: ds.modifiedSinceSnap,
		}
	}
	for id, os := range s.objsets {
		objs := make(map[uint64]objectJSON, len(os.objects))
		for num, obj := range os.objects {
			objs[num] = objectJSON{DN: obj.dn, Data: obj.data, Spill: obj.spill}
		}
		snap.Objsets[id] = objsetJSON{ID: os.id, Kind: os.kind, NextObj: os.nextObj, Objects: objs}
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("memstore: marshaling pool snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("memstore: writing pool snapshot %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads a Store previously written by SaveToFile. A
// missing file yields a fresh, empty Store (the pool's first send or
// receive creates it).
func LoadFromFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("memstore: reading pool snapshot %s: %w", path, err)
	}

	var snap storeJSON
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("memstore: parsing pool snapshot %s: %w", path, err)
	}

	s := New()
	s.datasets = make(map[string]*datasetRec, len(snap.Datasets))
	s.objsets = make(map[uint64]*objset, len(snap.Objsets))
	s.nextObjset, s.nextGUID, s.currentTXG, s.saSpill = snap.NextObjset, snap.NextGUID, snap.CurrentTXG, snap.SASpill

	for name, ds := range snap.Datasets {
		s.datasets[name] = &datasetRec{
			name: ds.Name, objsetID: ds.ObjsetID, guid: ds.GUID, parentFS: ds.ParentFS,
			isSnapshot: ds.IsSnapshot, origin: ds.Origin, snapshots: ds.Snapshots,
			inconsistent: ds.Inconsistent, inconsistentSince: ds.InconsistentSince,
			owner: ds.Owner, creationTXG: ds.CreationTXG, modifiedSinceSnap: ds.ModifiedSinceSnap,
		}
	}
	for id, osj := range snap.Objsets {
		objs := make(map[uint64]*object, len(osj.Objects))
		for num, oj := range osj.Objects {
			objs[num] = &object{dn: oj.DN, data: oj.Data, spill: oj.Spill}
		}
		s.objsets[id] = &objset{id: osj.ID, kind: osj.Kind, nextObj: osj.NextObj, objects: objs}
	}
	return s, nil
}
