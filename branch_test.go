package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// A two-tag cycle with weights 5 and 3 must lose the weight-3 edge.
func TestBranchCycleBreak(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	db := NewDatabase(logger)
	a := newTag("A")
	b := newTag("B")
	a.Rank = 0
	b.Rank = 1
	a.Tags = []BranchTag{{Tag: b, Weight: 5}}
	b.Parents = []ParentBranch{{Branch: a, Weight: 5}}
	b.Tags = []BranchTag{{Tag: a, Weight: 3}}
	a.Parents = []ParentBranch{{Branch: b, Weight: 3}}
	db.Tags = []*Tag{a, b}

	h := db.branchHeapInit()
	for db.branchHeapNext(h) != nil {
	}
	for _, tag := range db.Tags {
		for !tag.Released {
			db.splitCycle(h, tag)
			for db.branchHeapNext(h) != nil {
			}
		}
	}

	assert.True(t, a.Released)
	assert.True(t, b.Released)
	// The weight-3 edge B->A went; the weight-5 edge A->B survived.
	assert.Equal(t, 0, len(a.Parents))
	if assert.Equal(t, 1, len(b.Parents)) {
		assert.Equal(t, a, b.Parents[0].Branch)
		assert.Equal(t, 5, b.Parents[0].Weight)
	}
	assert.Equal(t, 0, len(b.Tags))
}

func TestBranchAnalyseParents(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("f1", []string{"B1: 1.1.0.2", "T1: 1.2"}, []testRev{
		{vers: "1.2", author: "a", date: epochDate(1000), log: "more"},
		{vers: "1.1.2.1", author: "a", date: epochDate(2000), log: "on b1"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	}) + rlogFile("f2", []string{"B1: 1.1.0.2", "T1: 1.1.2.1"}, []testRev{
		{vers: "1.1.2.1", author: "a", date: epochDate(2000), log: "on b1"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	})
	db := parseRLogString(logger, input)
	db.CreateChangesets(300)
	db.CreateImplicitMerges()
	db.BranchAnalyse()

	b1 := db.FindTag("B1")
	t1 := db.FindTag("T1")
	trunk := db.Trunk
	if assert.NotNil(t, b1) && assert.NotNil(t, t1) && assert.NotNil(t, trunk) {
		// B1's branch points are trunk revisions in both files.
		if assert.Equal(t, 1, len(b1.Parents)) {
			assert.Equal(t, trunk, b1.Parents[0].Branch)
			assert.Equal(t, 2, b1.Parents[0].Weight)
		}
		// T1 sits on the trunk in f1 and on B1 in f2.
		if assert.Equal(t, 2, len(t1.Parents)) {
			assert.Equal(t, trunk, t1.Parents[0].Branch)
			assert.Equal(t, b1, t1.Parents[1].Branch)
		}
		assert.True(t, b1.Released)
		assert.True(t, t1.Released)
		assert.True(t, trunk.Released)
	}
}
