package main

// Handling of tag/branch fix-ups.  A tag (or start of a branch) may contain
// differences from the state of the point we placed it at on the parent
// branch.  Detect these, and insert fix-up commits as required.

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FixupVer - the data for one file in a fix-up commit.
type FixupVer struct {
	File    *File
	Version *Version  // Live target revision; nil means the file goes away
	Time    time.Time // Zero time applies at the earliest possible moment
	done    bool
}

// CreateFixups - compare the tag's file state against the parent branch
// tips and record the fix-ups required.  The only fix-ups deferred to a
// later timestamp are files that spontaneously appear on the tag; everything
// else is assumed to have been there from the start.
func (db *Database) CreateFixups(baseVersions []*Version, t *Tag) {
	t.Fixups = nil

	tf := 0
	for _, f := range db.Files {
		var bv, tv *Version
		if baseVersions != nil {
			bv = baseVersions[f.Rank].Normalise()
		}
		if tf < len(t.TagFiles) && t.TagFiles[tf].File == f {
			tv = t.TagFiles[tf].Version.Normalise()
			tf++
		}

		bvl := bv.Live()
		tvl := tv.Live()
		if bvl == tvl {
			continue
		}

		var fixTime time.Time
		if tv != nil && baseVersions != nil && baseVersions[f.Rank] == nil {
			fixTime = tv.Time
		}

		t.Fixups = append(t.Fixups, FixupVer{File: f, Version: tvl, Time: fixTime})
	}

	sort.SliceStable(t.Fixups, func(i, j int) bool {
		return t.Fixups[i].Time.Before(t.Fixups[j].Time)
	})
}

// FixupList - take the fix-ups that are due at the given changeset: those
// whose time has come, plus any whose file the changeset touches.  A nil
// limit takes everything.  The result is sorted by file.
func (db *Database) FixupList(t *Tag, limit *time.Time, cs *Changeset) []FixupVer {
	due := make([]FixupVer, 0)
	for i := range t.Fixups {
		fv := &t.Fixups[i]
		if fv.done {
			continue
		}
		if limit == nil || !fv.Time.After(*limit) ||
			(cs != nil && cs.findFile(fv.File) != nil) {
			due = append(due, *fv)
			fv.done = true
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].File.Rank < due[j].File.Rank
	})
	return due
}

// PendingFixups - whether any fix-up of the tag is still waiting.
func (t *Tag) PendingFixups() bool {
	for i := range t.Fixups {
		if !t.Fixups[i].done {
			return true
		}
	}
	return false
}

// FixupCommitComment - generate the fix-up commit message with the change
// statistics and per-file detail.  The KEEP lines only appear when keeps are
// no more common than deletes, and the DELETE lines only when deletes are no
// more common than keeps, breaking the symmetry between the two
// reconstructions of the same state.
func (db *Database) FixupCommitComment(baseVersions []*Version, t *Tag, fixups []FixupVer) string {
	var keep, added, deleted, modified int

	ffv := 0
	for _, f := range db.Files {
		var bv, tv *Version
		if baseVersions != nil {
			bv = baseVersions[f.Rank].Normalise().Live()
		}
		if ffv < len(fixups) && fixups[ffv].File == f {
			tv = fixups[ffv].Version
			ffv++
		} else {
			tv = bv
		}

		if bv == tv {
			if bv != nil {
				keep++
			}
			continue
		}
		if tv == nil {
			deleted++
			continue
		}
		if bv == nil {
			added++
		} else {
			modified++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fix-up commit generated by cvsgittransfer.  (~%d +%d -%d =%d)\n",
		modified, added, deleted, keep)

	ffv = 0
	for _, f := range db.Files {
		var bv, tv *Version
		if baseVersions != nil {
			bv = baseVersions[f.Rank].Normalise().Live()
		}
		if ffv < len(fixups) && fixups[ffv].File == f {
			tv = fixups[ffv].Version
			ffv++
		} else {
			tv = bv
		}

		if bv == tv {
			if bv != nil && keep <= deleted {
				fmt.Fprintf(&b, "%s KEEP %s\n", bv.File.Path, bv.Version)
			}
			continue
		}
		if tv != nil || deleted <= keep {
			bvs, tvs := "ADD", "DELETE"
			if bv != nil {
				bvs = bv.Version
			}
			if tv != nil {
				tvs = tv.Version
			}
			fmt.Fprintf(&b, "%s %s->%s\n", f.Path, bvs, tvs)
		}
	}

	return b.String()
}
