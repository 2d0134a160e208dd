package main

// Changeset clustering: group per-file revisions that share author,
// commit-id and log message and lie within the fuzz window into single
// changesets, the way the legacy store would have seen one commit.

import (
	"sort"
	"time"

	"github.com/rcowham/cvsgittransfer/heap"
)

type ChangesetType int

const (
	CtImplicitMerge ChangesetType = iota // Implicit merge from vendor branch to trunk
	CtCommit                             // A normal commit
	CtTag                                // Tag / branch
)

func (t ChangesetType) String() string {
	return [...]string{"ImplicitMerge", "Commit", "Tag"}[t]
}

func typeOrder(t ChangesetType) int {
	switch t {
	case CtTag:
		return 0
	case CtCommit:
		return 1
	default:
		return 2
	}
}

// Changeset - a commit, tag or implicit merge node in the emission graph.
type Changeset struct {
	Time time.Time
	Type ChangesetType

	// Number of reasons for not emitting this changeset: each member
	// revision with an unemitted predecessor, each unemitted meta-parent,
	// and each member that is the first change to a file on a branch whose
	// start point has not yet been detected.
	UnreadyCount int
	ReadyIndex   int

	Versions []*Version // Members, for a commit or implicit merge

	Children []*Changeset
	Parent   *Changeset

	Mark  int
	Merge []*Changeset // Merge sources recorded by the filter

	Tag *Tag // For a tag changeset
}

func newChangeset(ctype ChangesetType) *Changeset {
	return &Changeset{Type: ctype, ReadyIndex: heap.Sentinel}
}

func (cs *Changeset) HeapIndex() int     { return cs.ReadyIndex }
func (cs *Changeset) SetHeapIndex(i int) { cs.ReadyIndex = i }

// AddChild - children cannot be emitted until the parent is.
func (cs *Changeset) AddChild(child *Changeset) {
	child.Parent = cs
	cs.Children = append(cs.Children, child)
}

func (cs *Changeset) findFile(f *File) *Version {
	for _, v := range cs.Versions {
		if v.File == f {
			return v
		}
	}
	return nil
}

// stringsMatch - two revisions are match-equivalent iff they share author,
// commit-id and log message.  Log equality is screened by hash first.
func (db *Database) stringsMatch(a, b *Version) bool {
	if a.Author != b.Author {
		return false
	}
	if a.CommitID != b.CommitID {
		return false
	}
	if db.LogHash(a.Log) != db.LogHash(b.Log) {
		return false
	}
	return a.Log == b.Log
}

// versionCompare orders revisions so that match-equivalent ones are
// adjacent and the whole order is deterministic.
func (db *Database) versionCompare(a, b *Version) int {
	if a.Author != b.Author {
		return strcmp(a.Author, b.Author)
	}
	if a.CommitID != b.CommitID {
		return strcmp(a.CommitID, b.CommitID)
	}
	alh, blh := db.LogHash(a.Log), db.LogHash(b.Log)
	if alh != blh {
		if alh < blh {
			return -1
		}
		return 1
	}
	if a.Log != b.Log {
		return strcmp(a.Log, b.Log)
	}
	if !a.Time.Equal(b.Time) {
		if a.Time.Before(b.Time) {
			return -1
		}
		return 1
	}
	if a.File != b.File {
		return a.File.Rank - b.File.Rank // Files are sorted by now
	}
	return a.index - b.index // Versions are sorted by now
}

func strcmp(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// CreateChangesets - cluster every revision of every file.
func (db *Database) CreateChangesets(fuzzWindow int) {
	versions := make([]*Version, 0)
	for _, f := range db.Files {
		versions = append(versions, f.Versions...)
	}
	if len(versions) == 0 {
		return
	}

	sort.Slice(versions, func(i, j int) bool {
		return db.versionCompare(versions[i], versions[j]) < 0
	})

	fuzz := time.Duration(fuzzWindow) * time.Second
	current := versions[0]
	cs := db.NewChangeset(CtCommit)
	cs.Time = current.Time
	cs.Versions = append(cs.Versions, current)
	current.Commit = cs
	start := current.Time
	for _, next := range versions[1:] {
		if db.stringsMatch(current, next) && next.Time.Sub(start) < fuzz {
			current.CsSibling = next
		} else {
			current.CsSibling = nil
			cs = db.NewChangeset(CtCommit)
			cs.Time = next.Time
			start = next.Time
		}
		cs.Versions = append(cs.Versions, next)
		next.Commit = cs
		current = next
	}
	current.CsSibling = nil

	sort.Slice(db.Changesets, func(i, j int) bool {
		return db.changesetCompare(db.Changesets[i], db.Changesets[j]) < 0
	})
}

// changesetCompare - total deterministic order: time first, then the
// match-equivalence key of the first member (tags order by rank).
func (db *Database) changesetCompare(a, b *Changeset) int {
	if !a.Time.Equal(b.Time) {
		if a.Time.Before(b.Time) {
			return -1
		}
		return 1
	}
	if a.Type != b.Type {
		// Tags sort first so a branch or tag lands before same-time
		// commits that follow it.
		return typeOrder(a.Type) - typeOrder(b.Type)
	}
	if a.Type == CtTag {
		return a.Tag.Rank - b.Tag.Rank
	}
	return db.versionCompare(a.Versions[0], b.Versions[0])
}

// vendorBranchVers is the conventional vendor branch number.
const vendorBranchVers = "1.1.1"

// CreateImplicitMerges - every commit on a vendor branch gets a child
// implicit-merge changeset holding trunk twins of its revisions.  Whether a
// twin really lands on the trunk is decided by the used filter at emission
// time.
func (db *Database) CreateImplicitMerges() {
	commits := db.Changesets
	for _, cs := range commits {
		var twins []*Version
		for _, v := range cs.Versions {
			if v.Branch == nil || v.Branch.Vers != vendorBranchVers {
				continue
			}
			twin := &Version{
				Version:       v.Version,
				Dead:          v.Dead,
				Exec:          v.Exec,
				Author:        v.Author,
				CommitID:      v.CommitID,
				Log:           v.Log,
				Time:          v.Time,
				Offset:        v.Offset,
				File:          v.File,
				Parent:        v,
				Branch:        v.File.trunk,
				ImplicitMerge: true,
				Real:          v,
				ReadyIndex:    heap.Sentinel,
				index:         v.index,
			}
			twin.Sibling = v.Children
			v.Children = twin
			twins = append(twins, twin)
		}
		if len(twins) == 0 {
			continue
		}
		merge := db.NewChangeset(CtImplicitMerge)
		merge.Time = cs.Time
		merge.Versions = twins
		for i, twin := range twins {
			twin.Commit = merge
			if i+1 < len(twins) {
				twin.CsSibling = twins[i+1]
			}
		}
		cs.AddChild(merge)
		db.logger.Debugf("ImplicitMerge: %s %d revisions", cs.Versions[0].File.Path, len(twins))
	}
}
