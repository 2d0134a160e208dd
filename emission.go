package main

// Emission scheduling: changesets become ready when every member revision
// has its predecessor emitted and every meta-parent is done, and are drained
// from a heap ordered by time.  Deadlocks between changesets are broken by
// splitting the ready members out of a blocked changeset.

import (
	"github.com/rcowham/cvsgittransfer/heap"
)

func compareVersions(a, b heap.Item) int {
	av, bv := a.(*Version), b.(*Version)
	if !av.Time.Equal(bv.Time) {
		if av.Time.Before(bv.Time) {
			return -1
		}
		return 1
	}
	if av.File != bv.File {
		return av.File.Rank - bv.File.Rank
	}
	if av.index != bv.index {
		return av.index - bv.index
	}
	if av.ImplicitMerge == bv.ImplicitMerge {
		return 0
	}
	if bv.ImplicitMerge {
		return -1
	}
	return 1
}

// ChangesetRelease - note one obligation of a changeset fulfilled; when the
// last one goes the changeset enters the ready heap.
func (db *Database) ChangesetRelease(cs *Changeset) {
	if cs.UnreadyCount <= 0 {
		db.logger.Fatalf("Changeset released with zero unready count (%s at %v)", cs.Type, cs.Time)
	}
	cs.UnreadyCount--
	if cs.UnreadyCount == 0 {
		db.ReadyChangesets.Insert(cs)
	}
}

// VersionRelease - mark a revision as ready to be emitted.
func (db *Database) VersionRelease(v *Version) {
	if db.ReadyVersions != nil {
		db.ReadyVersions.Insert(v)
	}
	db.ChangesetRelease(v.Commit)
}

// isBranchFirst - the revision is the first change to its file on its
// branch, so it additionally waits for the branch start point detection.
func isBranchFirst(v *Version) bool {
	return v.Branch != nil && v.Parent == v.Branch.Version
}

// ChangesetEmitted - propagate readiness after emitting a changeset.
func (db *Database) ChangesetEmitted(cs *Changeset) {
	if cs.Type != CtTag {
		for _, v := range cs.Versions {
			if db.ReadyVersions != nil {
				db.ReadyVersions.Remove(v)
			}
			for c := v.Children; c != nil; c = c.Sibling {
				db.VersionRelease(c)
			}
		}
	} else if db.gateBranchFirsts && cs.Tag.IsBranch() {
		// The branch start point is now detected; release the first
		// revision of each file on the branch.
		for _, ft := range cs.Tag.TagFiles {
			if !ft.IsBranch {
				continue
			}
			for _, v := range ft.File.Versions {
				if v.Branch == ft && v.Parent == ft.Version {
					db.ChangesetRelease(v.Commit)
				}
			}
		}
	}

	for _, child := range cs.Children {
		db.ChangesetRelease(child)
	}
}

// canReplaceWithImplicitMerge - whether the given trunk tip could equally
// well be represented by a vendor import.
func canReplaceWithImplicitMerge(v *Version) bool {
	if v == nil || v.ImplicitMerge {
		return true
	}
	return v.Version == "1.1" && !v.Dead && v.Log == "Initial revision\n"
}

// UpdateBranchVersions - record the changeset revisions on the branch tips.
// Returns the number of files whose live state actually changed; zero for a
// changeset consisting entirely of suppressed implicit merges or dead trunk
// additions.
func (db *Database) UpdateBranchVersions(cs *Changeset, computeUsed bool) int {
	branchTag := cs.Versions[0].Branch
	if branchTag == nil {
		return 0
	}
	tips := branchTag.Tag.BranchVersions
	changes := 0
	for _, v := range cs.Versions {
		bv := &tips[v.File.Rank]
		if computeUsed {
			v.Used = !v.ImplicitMerge || canReplaceWithImplicitMerge(*bv)
		}
		if !v.Used {
			continue
		}
		if (*bv).Live() != v.Live() {
			changes++
		}
		// Keep dead revisions here: dead revisions block implicit merges
		// of vendor imports.
		*bv = v
	}
	return changes
}

// preceed - for a blocked changeset, find the earliest still-unemitted
// ancestor revision that is itself ready to emit.
func (db *Database) preceed(cs *Changeset) *Version {
	for _, v := range cs.Versions {
		if v.ReadyIndex != heap.Sentinel {
			continue
		}
		for p := v.Parent; p != nil; p = p.Parent {
			if p.ReadyIndex != heap.Sentinel {
				return p
			}
		}
	}
	db.logger.Fatalf("Changeset cycle detection failed at %v", cs.Time)
	return nil
}

// cycleSplit - move the ready members of a deadlocked changeset into a new,
// immediately emittable changeset; the blocked members stay behind.
func (db *Database) cycleSplit(cs *Changeset) {
	nw := db.NewChangeset(cs.Type)
	nw.Time = cs.Time

	remaining := cs.Versions[:0]
	for _, v := range cs.Versions {
		if v.ReadyIndex == heap.Sentinel {
			// Blocked; stays put.
			remaining = append(remaining, v)
		} else {
			nw.Versions = append(nw.Versions, v)
			v.Commit = nw
		}
	}
	cs.Versions = remaining
	if len(cs.Versions) == 0 || len(nw.Versions) == 0 {
		db.logger.Fatalf("Changeset cycle split did not partition the changeset")
	}
	rechain(cs.Versions)
	rechain(nw.Versions)

	db.ReadyChangesets.Insert(nw)

	v0 := nw.Versions[0]
	db.logger.Warnf("Changeset cycle detected: splitting %s %s", v0.Author, v0.File.Path)
	for _, v := range nw.Versions {
		db.logger.Debugf("  emitting now: %s:%s", v.File.Path, v.Version)
	}
	for _, v := range cs.Versions {
		db.logger.Debugf("  deferring:    %s:%s", v.File.Path, v.Version)
	}
}

func rechain(versions []*Version) {
	for i, v := range versions {
		if i+1 < len(versions) {
			v.CsSibling = versions[i+1]
		} else {
			v.CsSibling = nil
		}
	}
}

// NextChangesetSplit - pop the next ready changeset; if none is ready but
// revisions are pending, a cycle exists and gets split first.
func (db *Database) NextChangesetSplit() *Changeset {
	if db.ReadyChangesets.Empty() {
		if db.ReadyVersions == nil || db.ReadyVersions.Empty() {
			return nil
		}
		// Find a cycle with tortoise and hare over preceed.
		slow := db.ReadyVersions.Front().(*Version)
		fast := slow
		for {
			slow = db.preceed(slow.Commit)
			fast = db.preceed(db.preceed(fast.Commit).Commit)
			if slow == fast {
				break
			}
		}
		db.cycleSplit(slow.Commit)
	}
	return db.ReadyChangesets.Pop().(*Changeset)
}

func (db *Database) resetEmissionState() {
	for _, cs := range db.Changesets {
		cs.UnreadyCount = 0
		cs.ReadyIndex = heap.Sentinel
	}
	for _, t := range db.Tags {
		t.Released = false
		t.Changeset.UnreadyCount = 0
		t.Changeset.ReadyIndex = heap.Sentinel
		t.Changesets = nil
		t.Last = nil
	}
	for _, f := range db.Files {
		for _, v := range f.Versions {
			v.ReadyIndex = heap.Sentinel
			v.Used = false
		}
	}
	db.ReadyChangesets = heap.New(func(a, b heap.Item) int {
		return db.changesetCompare(a.(*Changeset), b.(*Changeset))
	})
	db.ReadyVersions = heap.New(compareVersions)
	db.ResetBranchTips()
}

// PrepareForEmission - set up the unready counts for the ordering pass and
// mark the initial revisions as ready to emit.  Tags do not participate.
func (db *Database) PrepareForEmission() {
	db.resetEmissionState()
	db.gateBranchFirsts = false
	for _, cs := range db.Changesets {
		cs.UnreadyCount += len(cs.Versions)
		for _, child := range cs.Children {
			if child.Type != CtTag {
				child.UnreadyCount++
			}
		}
	}
	db.releaseInitialVersions()
}

func (db *Database) releaseInitialVersions() {
	for _, f := range db.Files {
		for _, v := range f.Versions {
			if v.Parent == nil {
				db.VersionRelease(v)
			}
		}
	}
}

// OrderingPass - run the scheduler once without emitting anything, to
// record each branch's changeset order and detect exact tag matches from
// the running branch state.  Returns the serial changeset order.
func (db *Database) OrderingPass() []*Changeset {
	db.PrepareForEmission()

	type exactPoint struct {
		tag *Tag
		cs  *Changeset
	}
	var exact []exactPoint
	var serial []*Changeset
	for {
		cs := db.NextChangesetSplit()
		if cs == nil {
			break
		}
		serial = append(serial, cs)
		changes := db.UpdateBranchVersions(cs, true)
		if branchTag := cs.Versions[0].Branch; branchTag != nil {
			b := branchTag.Tag
			b.Changesets = append(b.Changesets, cs)
			if changes > 0 {
				h := db.branchStateHash(b)
				for _, t := range db.tagHash[h] {
					if !t.ExactMatch {
						t.ExactMatch = true
						exact = append(exact, exactPoint{t, cs})
					}
				}
			}
		}
		db.ChangesetEmitted(cs)
	}
	if len(serial) != len(db.Changesets) {
		db.logger.Fatalf("Ordering pass emitted %d of %d changesets", len(serial), len(db.Changesets))
	}

	// Wire the exact matches into the graph only now; the pass itself must
	// not see half-built tag edges.
	for _, e := range exact {
		e.cs.AddChild(&e.tag.Changeset)
		e.tag.Changeset.Time = e.cs.Time
		db.logger.Debugf("ExactTag: %s at %v", e.tag.Name, e.cs.Time)
	}

	return serial
}

// PrepareForTagEmission - set up the output pass: this time the tags go
// through the usual emission process, and branches block revisions on the
// branch until their start point is emitted.
func (db *Database) PrepareForTagEmission() {
	db.resetEmissionState()
	db.gateBranchFirsts = true

	for _, cs := range db.Changesets {
		cs.UnreadyCount += len(cs.Versions)
		for _, child := range cs.Children {
			child.UnreadyCount++
		}
		for _, v := range cs.Versions {
			if isBranchFirst(v) {
				cs.UnreadyCount++
			}
		}
	}
	for _, t := range db.Tags {
		for _, child := range t.Changeset.Children {
			child.UnreadyCount++
		}
	}

	db.releaseInitialVersions()

	// The parentless tags are ready straight away.
	for _, t := range db.Tags {
		if t.Changeset.UnreadyCount == 0 {
			db.ReadyChangesets.Insert(&t.Changeset)
		}
	}
}
