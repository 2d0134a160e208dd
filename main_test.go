// Tests for cvsgittransfer

package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rcowham/cvsgittransfer/config"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

var debug bool = false
var logger *logrus.Logger

func init() {
	flag.BoolVar(&debug, "debug", false, "Set to have debug logging for tests.")
}

func createLogger() *logrus.Logger {
	if logger != nil {
		return logger
	}
	logger = logrus.New()
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger
}

// testLineSource - feeds canned rlog text to the parser.
type testLineSource struct {
	lines []string
	pos   int
}

func (s *testLineSource) NextLine() string {
	if s.pos >= len(s.lines) {
		panic("rlog input exhausted")
	}
	l := s.lines[s.pos]
	s.pos++
	return l
}

type testRev struct {
	vers     string
	author   string
	date     string
	log      string
	dead     bool
	commitid string
}

func epochDate(secs int) string {
	return time.Unix(int64(secs), 0).UTC().Format("2006-01-02 15:04:05 +0000")
}

// rlogFile - one file's section of an rlog response.  Tags are given as
// "NAME: vers" strings; revisions newest first as rlog writes them.
func rlogFile(path string, tags []string, revs []testRev) string {
	var b strings.Builder
	fmt.Fprintf(&b, "M RCS file: /repo/mod/%s,v\n", path)
	b.WriteString("M head: 1.1\n")
	b.WriteString("M symbolic names:\n")
	for _, tg := range tags {
		fmt.Fprintf(&b, "M \t%s\n", tg)
	}
	b.WriteString("M keyword substitution: kv\n")
	b.WriteString("M description:\n")
	for _, r := range revs {
		b.WriteString("M ----------------------------\n")
		fmt.Fprintf(&b, "M revision %s\n", r.vers)
		fmt.Fprintf(&b, "MT date %s\n", r.date)
		b.WriteString("MT tag author: \n")
		fmt.Fprintf(&b, "MT text %s\n", r.author)
		state := "Exp"
		if r.dead {
			state = "dead"
		}
		b.WriteString("MT tag state: \n")
		fmt.Fprintf(&b, "MT text %s\n", state)
		if r.commitid != "" {
			b.WriteString("MT tag commitid: \n")
			fmt.Fprintf(&b, "MT text %s\n", r.commitid)
		}
		for _, l := range strings.Split(strings.TrimSuffix(r.log, "\n"), "\n") {
			fmt.Fprintf(&b, "M %s\n", l)
		}
	}
	b.WriteString("M =============================================================================\n")
	return b.String()
}

func parseRLogString(logger *logrus.Logger, text string) *Database {
	db := NewDatabase(logger)
	src := &testLineSource{lines: strings.Split(text+"ok\n", "\n")}
	db.ParseRLog(src, "/repo/mod")
	return db
}

// testSource - substitutes the server: blob content is synthesised from the
// path and revision.
type testSource struct {
	db      *Database
	backend *libfastimport.Backend
}

func (s *testSource) GrabVersions(fetch []*Version) {
	for _, v := range fetch {
		if v == nil || v.Mark != 0 {
			continue
		}
		v.Mark = s.db.NextMark()
		s.backend.Do(libfastimport.CmdBlob{Mark: v.Mark,
			Data: fmt.Sprintf("%s:%s\n", v.File.Path, v.Version)})
	}
}

func runTransfer(logger *logrus.Logger, rlogText string, cfg *config.Config) (string, *Database, *CvsGitTransfer) {
	if cfg == nil {
		cfg, _ = config.Unmarshal(nil)
	}
	db := parseRLogString(logger, rlogText)
	buf := new(bytes.Buffer)
	mwc := &MyWriterCloser{nil, bufio.NewWriter(buf)}
	backend := libfastimport.NewBackend(mwc, nil, nil)
	src := &testSource{db: db, backend: backend}
	tr := NewCvsGitTransfer(logger, &TransferOptions{config: cfg}, db, backend, src)
	tr.Run()
	mwc.Flush()
	return buf.String(), db, tr
}

func marksInOrder(out string) []int {
	marks := make([]int, 0)
	for _, line := range strings.Split(out, "\n") {
		var m int
		if n, _ := fmt.Sscanf(line, "mark :%d", &m); n == 1 {
			marks = append(marks, m)
		}
	}
	return marks
}

func TestEmptyDatabase(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	out, db, _ := runTransfer(logger, "", nil)
	assert.Equal(t, "progress done\n", out)
	assert.Equal(t, 0, len(db.Changesets))
}

func TestTwoFilesOneCommit(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("F1.c", nil, []testRev{
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	}) + rlogFile("F2.c", nil, []testRev{
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	})
	out, db, tr := runTransfer(logger, input, nil)

	assert.Equal(t, 1, len(db.Changesets))
	assert.Equal(t, 1, tr.emittedCommits)
	assert.Equal(t, 1, strings.Count(out, "commit refs/heads/cvs_master"))
	assert.Equal(t, 1, strings.Count(out, "reset refs/heads/cvs_master"))
	assert.Equal(t, 1, strings.Count(out, ":1 F1.c"))
	assert.Equal(t, 1, strings.Count(out, ":2 F2.c"))
	assert.Contains(t, out, "committer a <a>")
	assert.Contains(t, out, "progress done\n")
}

func TestFuzzWindow(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := func(gap int) string {
		return rlogFile("F1.c", nil, []testRev{
			{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
		}) + rlogFile("F2.c", nil, []testRev{
			{vers: "1.1", author: "a", date: epochDate(gap), log: "init"},
		})
	}

	db := parseRLogString(logger, input(299))
	db.CreateChangesets(config.DefaultFuzzWindow)
	assert.Equal(t, 1, len(db.Changesets))

	db = parseRLogString(logger, input(301))
	db.CreateChangesets(config.DefaultFuzzWindow)
	assert.Equal(t, 2, len(db.Changesets))
}

func TestBranchAddition(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("F1.c", []string{"B: 1.1.0.2"}, []testRev{
		{vers: "1.1.2.1", author: "a", date: epochDate(100), log: "on branch"},
	})
	out, db, _ := runTransfer(logger, input, nil)

	b := db.FindTag("B")
	if assert.NotNil(t, b) {
		assert.True(t, b.IsBranch())
		assert.True(t, b.Released)
		assert.Nil(t, b.TagFiles[0].Version)
		assert.Nil(t, b.Changeset.Parent)
	}
	assert.Contains(t, out, "reset refs/heads/B\n")
	assert.NotContains(t, out, "reset refs/heads/B\nfrom")
	assert.Equal(t, 1, strings.Count(out, "commit refs/heads/B"))
	assert.Contains(t, out, ":1 F1.c")
}

func TestVendorImportDeadTrunk(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("F1.c", []string{"VEND: 1.1.1"}, []testRev{
		{vers: "1.1.1.1", author: "vendor", date: epochDate(10), log: "Import sources"},
		{vers: "1.1", author: "a", date: epochDate(10), log: "Initial revision", dead: true},
	})
	out, db, tr := runTransfer(logger, input, nil)

	var merge *Changeset
	for _, cs := range db.Changesets {
		if cs.Type == CtImplicitMerge {
			merge = cs
		}
	}
	if assert.NotNil(t, merge) {
		// The dead trunk 1.1 blocks the implicit merge.
		assert.False(t, merge.Versions[0].Used)
	}
	assert.Equal(t, 1, tr.emittedCommits)
	assert.Equal(t, 1, strings.Count(out, "commit refs/heads/"))
	assert.Contains(t, out, "commit refs/heads/VEND")
}

func TestVendorImportLiveTrunk(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("F1.c", []string{"VEND: 1.1.1"}, []testRev{
		{vers: "1.1.1.1", author: "vendor", date: epochDate(10), log: "Import sources"},
		{vers: "1.1", author: "a", date: epochDate(10), log: "Initial revision"},
	})
	_, db, tr := runTransfer(logger, input, nil)

	var merge *Changeset
	for _, cs := range db.Changesets {
		if cs.Type == CtImplicitMerge {
			merge = cs
		}
	}
	if assert.NotNil(t, merge) {
		// A live 1.1 with the conventional log is replaceable.
		assert.True(t, merge.Versions[0].Used)
	}
	assert.Equal(t, 3, tr.emittedCommits)
}

func TestTagFixup(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("f1", []string{"T: 1.1"}, []testRev{
		{vers: "1.1", author: "a", date: epochDate(5000), log: "add f1"},
	}) + rlogFile("f2", nil, []testRev{
		{vers: "1.1", author: "a", date: epochDate(0), log: "c1"},
	}) + rlogFile("f3", []string{"T: 1.1"}, []testRev{
		{vers: "1.1", author: "a", date: epochDate(0), log: "c1"},
	})
	out, db, _ := runTransfer(logger, input, nil)

	tag := db.FindTag("T")
	if assert.NotNil(t, tag) {
		assert.True(t, tag.Fixup)
		assert.False(t, tag.ExactMatch)
	}
	assert.Contains(t, out, "reset refs/tags/T\n")
	assert.Equal(t, 1, strings.Count(out, "commit refs/tags/T"))
	assert.Contains(t, out, "Fix-up commit generated by cvsgittransfer.  (~0 +0 -1 =2)")
	assert.Contains(t, out, "f2 1.1->DELETE")
	assert.Contains(t, out, "D f2")
}

func TestExactTag(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("f1", []string{"E: 1.1"}, []testRev{
		{vers: "1.2", author: "a", date: epochDate(1000), log: "c2"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "c1"},
	}) + rlogFile("f2", []string{"E: 1.1"}, []testRev{
		{vers: "1.1", author: "a", date: epochDate(0), log: "c1"},
	})
	out, db, _ := runTransfer(logger, input, nil)

	tag := db.FindTag("E")
	if assert.NotNil(t, tag) {
		assert.True(t, tag.ExactMatch)
		assert.False(t, tag.Fixup)
		assert.NotNil(t, tag.Changeset.Parent)
	}
	assert.Contains(t, out, "reset refs/tags/E\n")
	assert.Equal(t, 0, strings.Count(out, "commit refs/tags/E"))
}

func TestChangesetCycleSplit(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	// Clustering yields changeset A = {F2:1.1@50, F1:1.2@100} and B =
	// {F1:1.1@0, F2:1.2@60}: each blocks the other on a version parent.
	input := rlogFile("F1.c", nil, []testRev{
		{vers: "1.2", author: "a", date: epochDate(100), log: "logA"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "logB"},
	}) + rlogFile("F2.c", nil, []testRev{
		{vers: "1.2", author: "a", date: epochDate(60), log: "logB"},
		{vers: "1.1", author: "a", date: epochDate(50), log: "logA"},
	})
	out, db, tr := runTransfer(logger, input, nil)

	assert.Equal(t, 3, len(db.Changesets)) // one changeset was split
	assert.Equal(t, 3, tr.emittedCommits)
	assert.Equal(t, 3, strings.Count(out, "commit refs/heads/cvs_master"))
	// Version parents must still emit before their children.
	for _, f := range []string{"F1.c", "F2.c"} {
		first := strings.Index(out, fmt.Sprintf("%s:1.1\n", f))
		second := strings.Index(out, fmt.Sprintf("%s:1.2\n", f))
		assert.True(t, first >= 0 && second > first, "parent blob must precede child for %s", f)
	}
	assert.Contains(t, out, "progress done\n")
}

func TestMarksMonotonic(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("f1", []string{"E: 1.1"}, []testRev{
		{vers: "1.2", author: "a", date: epochDate(1000), log: "c2"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "c1"},
	}) + rlogFile("f2", []string{"B: 1.1.0.2"}, []testRev{
		{vers: "1.1.2.1", author: "b", date: epochDate(2000), log: "branch work"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "c1"},
	})
	out, db, _ := runTransfer(logger, input, nil)

	marks := marksInOrder(out)
	assert.True(t, len(marks) > 0)
	for i, m := range marks {
		assert.True(t, m > 0)
		if i > 0 {
			assert.True(t, m > marks[i-1], "marks must be monotonic: %v", marks)
		}
	}
	for _, cs := range db.Changesets {
		if cs.Type == CtCommit {
			assert.True(t, cs.Mark > 0, "commit changeset has no mark")
		}
	}
}

func TestDeterministicOutput(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	input := rlogFile("f1", []string{"R1: 1.2", "B: 1.2.0.2"}, []testRev{
		{vers: "1.2.2.1", author: "c", date: epochDate(5000), log: "branch fix"},
		{vers: "1.2", author: "b", date: epochDate(1000), log: "more"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	}) + rlogFile("f2", []string{"R1: 1.1"}, []testRev{
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	})
	out1, _, _ := runTransfer(logger, input, nil)
	out2, _, _ := runTransfer(logger, input, nil)
	assert.Equal(t, out1, out2)
}

func TestBranchNameMapping(t *testing.T) {
	logger := createLogger()
	logger.Debugf("======== Test: %s", t.Name())
	cfg, err := config.LoadConfigString([]byte(`
branch_mappings:
  - name:   "^rel_.*"
    prefix: "releases/"
`))
	assert.Nil(t, err)
	input := rlogFile("f1", []string{"rel_1: 1.1.0.2"}, []testRev{
		{vers: "1.1.2.1", author: "a", date: epochDate(100), log: "rel work"},
		{vers: "1.1", author: "a", date: epochDate(0), log: "init"},
	})
	out, _, _ := runTransfer(logger, input, cfg)
	assert.Contains(t, out, "reset refs/heads/releases/rel_1")
	assert.Contains(t, out, "commit refs/heads/releases/rel_1")
}
