package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkVersion(f *File, vers string, dead bool) *Version {
	v := f.NewVersion()
	v.Version = vers
	v.Dead = dead
	v.Time = time.Unix(0, 0).UTC()
	return v
}

// One modified, one deleted, one kept: the message carries the counts and
// the per-file details.
func TestFixupCommitComment(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	db := NewDatabase(logger)
	f1 := db.NewFile("f1", "f1")
	f2 := db.NewFile("f2", "f2")
	f3 := db.NewFile("f3", "f3")
	for i, f := range db.Files {
		f.Rank = i
	}
	v11 := mkVersion(f1, "1.1", false)
	v12 := mkVersion(f1, "1.2", false)
	v21 := mkVersion(f2, "1.1", false)
	v31 := mkVersion(f3, "1.1", false)

	base := []*Version{v12, v21, v31}
	tag := newTag("T")
	tag.TagFiles = []*FileTag{
		{Tag: tag, File: f1, Vers: "1.1", Version: v11},
		{Tag: tag, File: f3, Vers: "1.1", Version: v31},
	}

	db.CreateFixups(base, tag)
	assert.Equal(t, 2, len(tag.Fixups))

	flush := db.FixupList(tag, nil, nil)
	assert.Equal(t, 2, len(flush))
	assert.False(t, tag.PendingFixups())

	msg := db.FixupCommitComment(base, tag, flush)
	assert.True(t, strings.HasPrefix(msg,
		"Fix-up commit generated by cvsgittransfer.  (~1 +0 -1 =1)\n"), msg)
	assert.Contains(t, msg, "f1 1.2->1.1\n")
	assert.Contains(t, msg, "f2 1.1->DELETE\n")
	// keep == deleted, so the kept file is listed too.
	assert.Contains(t, msg, "f3 KEEP 1.1\n")
}

// Files that spontaneously appear on a tag keep their own timestamps; the
// rest applies at the earliest possible moment.
func TestFixupDeferral(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	db := NewDatabase(logger)
	f1 := db.NewFile("f1", "f1")
	f2 := db.NewFile("f2", "f2")
	for i, f := range db.Files {
		f.Rank = i
	}
	v11 := mkVersion(f1, "1.1", false)
	appear := mkVersion(f2, "1.1.2.1", false)
	appear.Time = time.Unix(9000, 0).UTC()

	// The branch knows f1 at its start; f2 turns up later.
	base := []*Version{v11, nil}
	tag := newTag("B")
	tag.BranchVersions = make([]*Version, 2)
	tag.TagFiles = []*FileTag{
		{Tag: tag, File: f2, Vers: "1.1.2.1", Version: appear, IsBranch: false},
	}

	db.CreateFixups(base, tag)
	if !assert.Equal(t, 2, len(tag.Fixups)) {
		return
	}

	// At the branch start only the f1 deletion is due.
	limit := time.Unix(0, 0).UTC()
	flush := db.FixupList(tag, &limit, nil)
	if assert.Equal(t, 1, len(flush)) {
		assert.Equal(t, f1, flush[0].File)
		assert.Nil(t, flush[0].Version)
	}
	assert.True(t, tag.PendingFixups())

	// Once time catches up the appearing file flushes too.
	limit = time.Unix(9000, 0).UTC()
	flush = db.FixupList(tag, &limit, nil)
	if assert.Equal(t, 1, len(flush)) {
		assert.Equal(t, f2, flush[0].File)
		assert.Equal(t, appear, flush[0].Version)
	}
	assert.False(t, tag.PendingFixups())
}
