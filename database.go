package main

// Database - owns the files, tags and changesets and provides the shared
// lookup and lifecycle services: mark assignment, the interned log-hash
// memo, and the tag-state hash table used for exact tag matching.

import (
	"crypto/sha1"
	"encoding/binary"
	"hash/fnv"
	"sort"

	"github.com/rcowham/cvsgittransfer/heap"
	"github.com/sirupsen/logrus"
)

type Database struct {
	logger *logrus.Logger

	Files      []*File
	Tags       []*Tag
	Trunk      *Tag
	Changesets []*Changeset

	ReadyChangesets *heap.Heap
	ReadyVersions   *heap.Heap

	markCounter int
	logHashes   map[string]uint32
	tagsByName  map[string]*Tag
	filesByPath map[string]*File
	tagHash     map[[sha1.Size]byte][]*Tag

	gateBranchFirsts bool
}

func NewDatabase(logger *logrus.Logger) *Database {
	return &Database{
		logger:      logger,
		logHashes:   make(map[string]uint32),
		tagsByName:  make(map[string]*Tag),
		filesByPath: make(map[string]*File),
		tagHash:     make(map[[sha1.Size]byte][]*Tag),
	}
}

func (db *Database) NewFile(path string, rcsPath string) *File {
	f := &File{Path: path, RcsPath: rcsPath}
	db.Files = append(db.Files, f)
	return f
}

// GetTag returns the named tag, creating it on first sight.
func (db *Database) GetTag(name string) *Tag {
	if t, ok := db.tagsByName[name]; ok {
		return t
	}
	t := newTag(name)
	db.tagsByName[name] = t
	db.Tags = append(db.Tags, t)
	return t
}

func (db *Database) FindTag(name string) *Tag {
	return db.tagsByName[name]
}

func (db *Database) FindFile(path string) *File {
	return db.filesByPath[path]
}

func (db *Database) NewChangeset(ctype ChangesetType) *Changeset {
	cs := newChangeset(ctype)
	db.Changesets = append(db.Changesets, cs)
	return cs
}

// NextMark - marks are assigned monotonically during emission.
func (db *Database) NextMark() int {
	db.markCounter++
	return db.markCounter
}

// LogHash - memoised hash of a log message, used to screen log comparisons
// during clustering.
func (db *Database) LogHash(log string) uint32 {
	if h, ok := db.logHashes[log]; ok {
		return h
	}
	h := fnv.New32a()
	h.Write([]byte(log))
	sum := h.Sum32()
	db.logHashes[log] = sum
	return sum
}

// Finalise - called once parsing is complete.  Sorts files and tags, wires
// the cross links, synthesises the trunk, and computes the tag-state hashes.
func (db *Database) Finalise() {
	// Sort the list of files by archival path.
	sort.Slice(db.Files, func(i, j int) bool {
		return db.Files[i].RcsPath < db.Files[j].RcsPath
	})
	hasVersions := false
	for i, f := range db.Files {
		f.Rank = i
		db.filesByPath[f.Path] = f
		if len(f.Versions) > 0 {
			hasVersions = true
		}
	}

	// The trunk is an anonymous branch carrying every revision that is not
	// on a named branch.
	if hasVersions {
		db.Trunk = newTag("")
		db.Trunk.BranchVersions = make([]*Version, len(db.Files))
		db.tagsByName[""] = db.Trunk
		db.Tags = append(db.Tags, db.Trunk)
		for _, f := range db.Files {
			f.trunk = &FileTag{Tag: db.Trunk, File: f, Vers: "1", IsBranch: true}
			db.Trunk.TagFiles = append(db.Trunk.TagFiles, f.trunk)
		}
	}

	// Add the file tags to the tags.  Files are sorted, so each tag's list
	// ends up sorted by file.
	for _, f := range db.Files {
		for _, ft := range f.FileTags {
			ft.Tag.TagFiles = append(ft.Tag.TagFiles, ft)
			if ft.IsBranch && ft.Tag.BranchVersions == nil {
				ft.Tag.BranchVersions = make([]*Version, len(db.Files))
			}
		}
		// Assign each revision to the branch stream containing it.
		for _, v := range f.Versions {
			v.Branch = f.findBranch(v.Version)
		}
	}

	// Sort the tags by name; the rank doubles as the deterministic
	// tie-break everywhere a choice between tags is needed.
	sort.Slice(db.Tags, func(i, j int) bool {
		return db.Tags[i].Name < db.Tags[j].Name
	})
	for i, t := range db.Tags {
		t.Rank = i
	}

	// Compute the per-tag state hashes for exact matching.
	for _, t := range db.Tags {
		if t == db.Trunk {
			continue
		}
		h := sha1.New()
		live := 0
		for _, ft := range t.TagFiles {
			if v := ft.Version.Normalise().Live(); v != nil {
				hashVersion(h, v)
				live++
			}
		}
		copy(t.Hash[:], h.Sum(nil))
		// A tag with no live revisions matches nothing.
		if live > 0 {
			db.tagHash[t.Hash] = append(db.tagHash[t.Hash], t)
		}
	}
}

func hashVersion(h interface{ Write(p []byte) (int, error) }, v *Version) {
	var rank [4]byte
	binary.BigEndian.PutUint32(rank[:], uint32(v.File.Rank))
	h.Write(rank[:])
	h.Write([]byte(v.Version))
	h.Write([]byte{0})
}

// branchStateHash - hash of a branch's current live file state, comparable
// with the per-tag hashes.
func (db *Database) branchStateHash(t *Tag) [sha1.Size]byte {
	h := sha1.New()
	for _, tip := range t.BranchVersions {
		if v := tip.Normalise().Live(); v != nil {
			hashVersion(h, v)
		}
	}
	var sum [sha1.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// ResetBranchTips - rewind every branch to its branch points.
func (db *Database) ResetBranchTips() {
	for _, t := range db.Tags {
		if t.BranchVersions == nil {
			continue
		}
		for i := range t.BranchVersions {
			t.BranchVersions[i] = nil
		}
		for _, ft := range t.TagFiles {
			if ft.IsBranch {
				t.BranchVersions[ft.File.Rank] = ft.Version
			}
		}
	}
}
