package main

// In-memory model of the per-file revision store: files, their revisions,
// and the symbolic tags/branches attached to them.  Built by the rlog parser
// and fixed up here once each file is complete.

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rcowham/cvsgittransfer/heap"
)

// Version - a single revision of a file.
type Version struct {
	Version  string // Dotted-decimal revision number
	Dead     bool
	Exec     bool
	Author   string
	CommitID string
	Log      string
	Time     time.Time
	Offset   int // Timezone offset in seconds, kept for reporting only

	File      *File
	Parent    *Version // Previous revision on the same line of descent
	Children  *Version // First child revision
	Sibling   *Version // Next co-child of Parent
	Branch    *FileTag // Branch whose stream contains this revision
	Commit    *Changeset
	CsSibling *Version // Next member of the same changeset

	ImplicitMerge bool     // Twin of a vendor-branch revision, lives on the trunk
	Real          *Version // For twins, the vendor revision carrying the content

	Used       bool // Revision is active in its changeset during emission
	Mark       int  // Output stream identity; 0 until assigned
	ReadyIndex int

	index int // Position in the file's sorted revision list
}

func (v *Version) HeapIndex() int     { return v.ReadyIndex }
func (v *Version) SetHeapIndex(i int) { v.ReadyIndex = i }

// Live returns the version if it represents a live file, else nil.
func (v *Version) Live() *Version {
	if v == nil || v.Dead {
		return nil
	}
	return v
}

// Normalise resolves an implicit-merge twin to the revision carrying the
// actual content.
func (v *Version) Normalise() *Version {
	if v == nil {
		return nil
	}
	if v.Real != nil {
		return v.Real
	}
	return v
}

// FileTag - binds a Tag to a File.  For a branch, Version is the branch
// point, not a revision on the branch, and may be nil (branch addition).
type FileTag struct {
	Tag      *Tag
	File     *File
	Vers     string
	Version  *Version
	IsBranch bool
}

// File - one file of the repository with its revisions and tags.
type File struct {
	Path     string // Working path
	RcsPath  string // Archival path (,v suffix stripped, Attic intact)
	Versions []*Version
	FileTags []*FileTag
	Branches []*FileTag // Branch FileTags sorted by branch revision
	Rank     int        // Position in the database's sorted file list

	trunk *FileTag // Synthetic FileTag for the trunk stream
}

func (f *File) NewVersion() *Version {
	v := &Version{File: f, ReadyIndex: heap.Sentinel}
	f.Versions = append(f.Versions, v)
	return v
}

func (f *File) NewFileTag() *FileTag {
	ft := &FileTag{File: f}
	f.FileTags = append(f.FileTags, ft)
	return ft
}

// FindVersion - binary search over the sorted revision list.
func (f *File) FindVersion(vers string) *Version {
	i := sort.Search(len(f.Versions), func(i int) bool {
		return f.Versions[i].Version >= vers
	})
	if i < len(f.Versions) && f.Versions[i].Version == vers {
		return f.Versions[i]
	}
	return nil
}

// findBranch locates the branch FileTag whose stream contains the given
// revision number; nil for a revision on an unknown branch.
func (f *File) findBranch(vers string) *FileTag {
	last := strings.LastIndexByte(vers, '.')
	if last < 0 {
		return nil
	}
	if strings.Count(vers, ".") == 1 {
		return f.trunk
	}
	prefix := vers[:last]
	i := sort.Search(len(f.Branches), func(i int) bool {
		return f.Branches[i].Vers >= prefix
	})
	if i < len(f.Branches) && f.Branches[i].Vers == prefix {
		return f.Branches[i]
	}
	return nil
}

// validVersion - non-empty even-length '.' separated numbers, no leading
// zeroes.
func validVersion(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts)%2 != 0 {
		return false
	}
	for _, p := range parts {
		if p == "" || p[0] < '1' || p[0] > '9' {
			return false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// predecessor computes the previous revision number on the same line of
// descent.  For a branch number it is the branch point.  Returns false when
// no predecessor exists (the root of the file).
func predecessor(s string, isBranch bool) (string, bool) {
	last := strings.LastIndexByte(s, '.')
	if last < 0 {
		return "", false
	}
	if isBranch {
		// Branch; just truncate the last component.
		return s[:last], true
	}
	if s[last+1:] == "1" {
		// A .1 revision; remove the last two components.
		s = s[:last]
		last = strings.LastIndexByte(s, '.')
		if last < 0 {
			return "", false
		}
		return s[:last], true
	}
	// Decrement the last component.
	n, err := strconv.Atoi(s[last+1:])
	if err != nil || n < 2 {
		return "", false
	}
	return s[:last+1] + strconv.Itoa(n-1), true
}

// normaliseTagVersion classifies a symbolic tag revision string, rewriting
// the 'x.y.0.z' style branch numbers to 'x.y.z'.  Returns the normalised
// string and -1 for a bogus string, 0 for a plain tag, 1 for a branch.
func normaliseTagVersion(s string) (string, int) {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		if p == "" || p[0] < '0' || p[0] > '9' {
			return s, -1
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return s, -1
			}
		}
		// Only the magic branch marker may be zero.
		if p[0] == '0' && (p != "0" || i != len(parts)-2) {
			return s, -1
		}
	}
	if len(parts)%2 == 1 {
		return s, 1 // x.y.z style branch
	}
	if len(parts) >= 4 && parts[len(parts)-2] == "0" {
		// New-style branch tag; drop the zero.
		parts = append(parts[:len(parts)-2], parts[len(parts)-1])
		return strings.Join(parts, "."), 1
	}
	return s, 0
}

// fillInVersionsAndParents - called once a file's rlog section is complete.
// Sorts revisions, links parents and children, resolves tag revisions and
// branch points.
func (db *Database) fillInVersionsAndParents(f *File) {
	sort.Slice(f.Versions, func(i, j int) bool {
		return f.Versions[i].Version < f.Versions[j].Version
	})
	for i, v := range f.Versions {
		v.index = i
	}
	sort.Slice(f.FileTags, func(i, j int) bool {
		return f.FileTags[i].Tag.Name < f.FileTags[j].Tag.Name
	})

	// Fill in the parent, sibling and children links.
	for i := len(f.Versions); i > 0; {
		i--
		v := f.Versions[i]
		vers := v.Version
		for {
			prev, ok := predecessor(vers, false)
			if !ok {
				break
			}
			vers = prev
			if p := f.FindVersion(vers); p != nil {
				v.Parent = p
				v.Sibling = p.Children
				p.Children = v
				break
			}
		}
	}

	// Fill in the tag revision links, and drop tags on dead revisions.
	kept := f.FileTags[:0]
	for _, ft := range f.FileTags {
		if !ft.IsBranch {
			ft.Version = f.FindVersion(ft.Vers)
			if ft.Version == nil {
				db.logger.Warnf("%s: Tag %s version %s does not exist", f.RcsPath, ft.Tag.Name, ft.Vers)
				continue
			}
			if ft.Version.Dead {
				db.logger.Warnf("%s: Tag %s version %s is dead", f.RcsPath, ft.Tag.Name, ft.Vers)
				continue
			}
			kept = append(kept, ft)
			continue
		}
		// Find a predecessor revision to use as the branch point.  If none
		// exists that is fine, it is a branch addition.
		if point, ok := predecessor(ft.Vers, true); ok {
			ft.Version = f.FindVersion(point)
		}
		if ft.Version != nil && ft.Version.Dead {
			// Branch additions; unlike tags on dead revisions we keep the
			// file tag.
			ft.Version = nil
		}
		f.Branches = append(f.Branches, ft)
		kept = append(kept, ft)
	}
	f.FileTags = kept

	// Sort the branches by revision and drop duplicates.
	sort.Slice(f.Branches, func(i, j int) bool {
		return f.Branches[i].Vers < f.Branches[j].Vers
	})
	bb := f.Branches[:0]
	for i, ft := range f.Branches {
		if i > 0 && bb[len(bb)-1].Vers == ft.Vers {
			db.logger.Warnf("File %s branch %s duplicates branch %s (%s)",
				f.RcsPath, ft.Tag.Name, bb[len(bb)-1].Tag.Name, ft.Vers)
			continue
		}
		bb = append(bb, ft)
	}
	f.Branches = bb
}
