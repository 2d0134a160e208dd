package main

// CvsGitTransfer - drives the whole conversion: cluster the parsed
// revisions into changesets, analyse the branch structure, order
// everything, then emit the fast-import stream with fix-ups interleaved.

import (
	"fmt"
	"os"
	"regexp"

	"github.com/rcowham/cvsgittransfer/config"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/sirupsen/logrus"
)

type TransferOptions struct {
	config      *config.Config
	root        string
	module      string
	graphFile   string
	archiveRoot string
	filterCmd   string
	dryRun      bool
	dummyFiles  bool
}

type BranchRegex struct {
	nameRegex *regexp.Regexp
	prefix    string
}

// BranchNameMapper - rewrites branch/tag names per the configured mappings
type BranchNameMapper struct {
	branchMaps []BranchRegex
}

func newBranchNameMapper(cfg *config.Config) *BranchNameMapper {
	bm := &BranchNameMapper{
		branchMaps: make([]BranchRegex, 0),
	}
	if cfg == nil {
		return bm
	}
	for _, m := range cfg.BranchMappings {
		br := BranchRegex{
			nameRegex: regexp.MustCompile(m.Name),
			prefix:    m.Prefix,
		}
		bm.branchMaps = append(bm.branchMaps, br)
	}
	return bm
}

func (bm *BranchNameMapper) branchName(name string) string {
	for _, m := range bm.branchMaps {
		if m.nameRegex.MatchString(name) {
			return m.prefix + name
		}
	}
	return name
}

// CvsGitTransfer - transfer from a CVS rlog + checkout stream to a git
// fast-import stream.
type CvsGitTransfer struct {
	logger  *logrus.Logger
	opts    TransferOptions
	db      *Database
	backend *libfastimport.Backend
	source  VersionSource
	mapper  *BranchNameMapper

	emittedCommits int
}

func NewCvsGitTransfer(logger *logrus.Logger, opts *TransferOptions, db *Database,
	backend *libfastimport.Backend, source VersionSource) *CvsGitTransfer {
	return &CvsGitTransfer{
		logger:  logger,
		opts:    *opts,
		db:      db,
		backend: backend,
		source:  source,
		mapper:  newBranchNameMapper(opts.config),
	}
}

// refName - the git ref a tag or branch emits on.  The anonymous trunk
// becomes the configured master branch.
func (t *CvsGitTransfer) refName(tag *Tag) string {
	name := tag.Name
	if name == "" {
		name = t.opts.config.MasterBranch
	} else {
		name = t.mapper.branchName(name)
	}
	if tag.IsBranch() {
		return "refs/heads/" + name
	}
	return "refs/tags/" + name
}

func ensureNL(s string) string {
	if s == "" || s[len(s)-1] != '\n' {
		return s + "\n"
	}
	return s
}

// mergeRefs - marks of the changeset's recorded merge sources.
func (t *CvsGitTransfer) mergeRefs(cs *Changeset) []string {
	refs := make([]string, 0, len(cs.Merge))
	for _, m := range cs.Merge {
		if m.Mark == 0 {
			t.logger.Warnf("Merge source has no mark yet - dropped")
			continue
		}
		refs = append(refs, fmt.Sprintf(":%d", m.Mark))
	}
	return refs
}

func (t *CvsGitTransfer) printCommit(cs *Changeset) {
	v := cs.Versions[0]
	if v.Branch == nil {
		t.logger.Warnf("%v <anon> %s %s COMMIT - skip\n%s", cs.Time, v.Author, v.CommitID, v.Log)
		return
	}
	branch := v.Branch.Tag
	tips := branch.BranchVersions

	// The used filter: an implicit merge only lands on the trunk while the
	// trunk state could equally be the vendor import.
	for _, m := range cs.Versions {
		m.Used = !m.ImplicitMerge || canReplaceWithImplicitMerge(tips[m.File.Rank])
	}

	// Check whether this commit actually does anything.
	nothing := true
	fetch := make([]*Version, 0)
	for _, m := range cs.Versions {
		if !m.Used {
			continue
		}
		cv := m.Live()
		if cv == tips[m.File.Rank].Live() {
			continue
		}
		nothing = false
		if cv != nil && cv.Normalise().Mark == 0 {
			fetch = append(fetch, cv.Normalise())
		}
	}
	if nothing {
		if branch.Last != nil {
			cs.Mark = branch.Last.Mark
		}
		branch.Last = cs
		return
	}

	t.source.GrabVersions(fetch)

	branch.Last = cs
	cs.Mark = t.db.NextMark()
	t.emittedCommits++

	t.backend.Do(libfastimport.CmdCommit{
		Ref:       t.refName(branch),
		Mark:      cs.Mark,
		Committer: libfastimport.Ident{Name: v.Author, Email: v.Author, Time: cs.Time},
		Msg:       ensureNL(v.Log),
		Merge:     t.mergeRefs(cs),
	})
	for _, m := range cs.Versions {
		if !m.Used {
			continue
		}
		vv := m.Normalise()
		if vv.Dead {
			t.backend.Do(libfastimport.FileDelete{Path: libfastimport.Path(vv.File.Path)})
		} else {
			mode := libfastimport.ModeFil
			if vv.Exec {
				mode = libfastimport.ModeExe
			}
			t.backend.Do(libfastimport.FileModify{
				Mode:    mode,
				Path:    libfastimport.Path(vv.File.Path),
				DataRef: fmt.Sprintf(":%d", vv.Mark),
			})
		}
	}
	t.backend.Do(libfastimport.CmdCommitEnd{})
}

// emitFixup - synthesize a fix-up commit applying the flushed entries on
// the tag's ref.
func (t *CvsGitTransfer) emitFixup(tag *Tag, base []*Version, flush []FixupVer) {
	fetch := make([]*Version, 0)
	for _, fv := range flush {
		if fv.Version != nil && fv.Version.Mark == 0 {
			fetch = append(fetch, fv.Version)
		}
	}
	t.source.GrabVersions(fetch)

	tag.Fixup = true
	tag.Changeset.Mark = t.db.NextMark()
	tag.Last = &tag.Changeset

	t.backend.Do(libfastimport.CmdCommit{
		Ref:       t.refName(tag),
		Mark:      tag.Changeset.Mark,
		Committer: libfastimport.Ident{Name: "cvsgittransfer", Email: "cvsgittransfer", Time: tag.Changeset.Time},
		Msg:       t.db.FixupCommitComment(base, tag, flush),
		Merge:     t.mergeRefs(&tag.Changeset),
	})
	for _, fv := range flush {
		if fv.Version == nil {
			t.backend.Do(libfastimport.FileDelete{Path: libfastimport.Path(fv.File.Path)})
		} else {
			mode := libfastimport.ModeFil
			if fv.Version.Exec {
				mode = libfastimport.ModeExe
			}
			t.backend.Do(libfastimport.FileModify{
				Mode:    mode,
				Path:    libfastimport.Path(fv.File.Path),
				DataRef: fmt.Sprintf(":%d", fv.Version.Mark),
			})
		}
		// The branch's own tips absorb the fix-up so later commits see it.
		if tag.IsBranch() {
			tag.BranchVersions[fv.File.Rank] = fv.Version
		}
	}
	t.backend.Do(libfastimport.CmdCommitEnd{})
}

func (t *CvsGitTransfer) printTag(tag *Tag) {
	kind := "TAG"
	if tag.IsBranch() {
		kind = "BRANCH"
	}
	t.logger.Debugf("%v %s %s", tag.Changeset.Time, kind, tag.Name)

	var branch *Tag
	parent := tag.Changeset.Parent
	if parent != nil {
		if parent.Type == CtTag {
			branch = parent.Tag
		} else if parent.Versions[0].Branch != nil {
			branch = parent.Versions[0].Branch.Tag
		}
	}
	if branch != nil && branch.Last != parent {
		t.logger.Debugf("Tag %s emits after its branch advanced past the tag point", tag.Name)
	}

	if !tag.Deleted {
		from := ""
		if parent != nil && parent.Mark != 0 {
			from = fmt.Sprintf(":%d", parent.Mark)
		}
		t.backend.Do(libfastimport.CmdReset{RefName: t.refName(tag), CommitIsh: from})
	}
	if parent != nil {
		tag.Changeset.Mark = parent.Mark
	}
	tag.Last = &tag.Changeset

	// Note the fix-ups required against the state we reset to.
	var base []*Version
	if branch != nil {
		base = branch.BranchVersions
	}
	t.db.CreateFixups(base, tag)

	var flush []FixupVer
	if tag.IsBranch() {
		// Files appearing on the branch later keep their own timestamps.
		limit := tag.Changeset.Time
		flush = t.db.FixupList(tag, &limit, nil)
	} else {
		flush = t.db.FixupList(tag, nil, nil)
	}
	if tag.Deleted {
		return
	}
	if len(flush) > 0 {
		t.emitFixup(tag, base, flush)
	} else if len(tag.Changeset.Merge) > 0 {
		t.logger.Warnf("Tag %s has merge sources but no fix-up commit - dropped", tag.Name)
	}
}

// Run - the full pipeline after parsing.
func (t *CvsGitTransfer) Run() {
	db := t.db

	db.CreateChangesets(t.opts.config.FuzzWindow)
	db.CreateImplicitMerges()
	db.BranchAnalyse()

	if t.opts.graphFile != "" {
		if err := os.WriteFile(t.opts.graphFile, []byte(db.WriteBranchGraph()), 0644); err != nil {
			t.logger.Errorf("Failed to write graph file: %v", err)
		}
	}

	serial := db.OrderingPass()
	for _, tag := range db.Tags {
		db.AssignTagPoint(tag)
	}

	if t.opts.filterCmd != "" {
		full := make([]*Changeset, 0, len(serial)+len(db.Tags))
		full = append(full, serial...)
		for _, tag := range db.Tags {
			if tag != db.Trunk {
				full = append(full, &tag.Changeset)
			}
		}
		t.RunFilter(t.opts.filterCmd, full)
	}

	if t.opts.dryRun {
		t.logStats()
		return
	}

	// Emit the changesets for real.
	db.PrepareForTagEmission()
	count := 0
	for {
		cs := db.NextChangesetSplit()
		if cs == nil {
			break
		}
		count++
		if cs.Type != CtTag {
			t.printCommit(cs)
			db.UpdateBranchVersions(cs, false)
			if bt := cs.Versions[0].Branch; bt != nil && bt.Tag.PendingFixups() {
				limit := cs.Time
				if flush := db.FixupList(bt.Tag, &limit, cs); len(flush) > 0 {
					t.emitFixup(bt.Tag, bt.Tag.BranchVersions, flush)
				}
			}
		} else {
			cs.Tag.Released = true
			t.printTag(cs.Tag)
		}
		db.ChangesetEmitted(cs)
	}

	// Any fix-ups deferred past the last commit of their branch.
	for _, tag := range db.Tags {
		if tag.PendingFixups() {
			if flush := db.FixupList(tag, nil, nil); len(flush) > 0 && !tag.Deleted {
				t.emitFixup(tag, tag.BranchVersions, flush)
			}
		}
		if !tag.Released {
			t.logger.Fatalf("Tag %s was never released", tag.Name)
		}
	}

	if count != len(db.Changesets)+len(db.Tags) {
		t.logger.Fatalf("Emission visited %d changesets of %d", count, len(db.Changesets)+len(db.Tags))
	}
	t.logStats()

	t.backend.Do(libfastimport.CmdProgress{Str: "done"})
}

func (t *CvsGitTransfer) logStats() {
	total := len(t.db.Changesets)
	rel := "!="
	if t.emittedCommits == total {
		rel = "="
	}
	t.logger.Infof("Emitted %d commits (%s total %d).", t.emittedCommits, rel, total)

	var exactBranches, fixupBranches, exactTags, fixupTags int
	for _, tag := range t.db.Tags {
		if tag.IsBranch() {
			if tag.Fixup {
				fixupBranches++
			} else {
				exactBranches++
			}
		} else {
			if tag.Fixup {
				fixupTags++
			} else {
				exactTags++
			}
		}
	}
	t.logger.Infof("Exact %5d + %5d = %5d branches + tags.", exactBranches, exactTags, exactBranches+exactTags)
	t.logger.Infof("Fixup %5d + %5d = %5d branches + tags.", fixupBranches, fixupTags, fixupBranches+fixupTags)
}
