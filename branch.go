package main

// Computation of the branch tree.  Each file imposes some branch/sub-branch
// dependencies; we create a weighted graph over the set of tags by counting
// the dependencies from each file, then break any cycles to leave a DAG,
// removing the link of least weight from each cycle found.

import (
	"sort"
	"strconv"

	"github.com/emicklei/dot"
	"github.com/rcowham/cvsgittransfer/heap"
)

// BranchTag - a weighted child edge from a branch to a tag whose revisions
// live on it.
type BranchTag struct {
	Tag    *Tag
	Weight int
}

// ParentBranch - a weighted candidate parent edge of a tag.
type ParentBranch struct {
	Branch *Tag
	Weight int
}

// Tag - a named symbolic reference: a branch if it carries per-file tips,
// otherwise a plain tag.  Tags own a changeset so they flow through the
// emission machinery uniformly with commits.
type Tag struct {
	Name     string
	TagFiles []*FileTag // One per file carrying this tag, in file order

	// Per-file current tips; non-nil exactly for branches.
	BranchVersions []*Version

	Changeset Changeset

	Parents []ParentBranch // Candidate parents, heaviest first
	Tags    []BranchTag    // Weighted child tags

	Released   bool
	ExactMatch bool
	Fixup      bool
	Deleted    bool

	MergeSource bool

	Last *Changeset // Most recently emitted changeset on this branch

	Rank int
	Hash [20]byte

	// Ordered changesets of this branch, recorded by the ordering pass.
	Changesets []*Changeset

	Fixups []FixupVer
}

func newTag(name string) *Tag {
	t := &Tag{Name: name}
	t.Changeset.Type = CtTag
	t.Changeset.ReadyIndex = heap.Sentinel
	t.Changeset.Tag = t
	return t
}

func (t *Tag) IsBranch() bool { return t.BranchVersions != nil }

// The branch release heap orders tags by rank only.
func (t *Tag) HeapIndex() int     { return t.Changeset.ReadyIndex }
func (t *Tag) SetHeapIndex(i int) { t.Changeset.ReadyIndex = i }

func tagCompare(a, b heap.Item) int {
	return a.(*Tag).Rank - b.(*Tag).Rank
}

// comparePb - heaviest parents sort first, rank breaks ties.
func comparePb(a, b *ParentBranch) int {
	if a.Weight != b.Weight {
		return b.Weight - a.Weight
	}
	return a.Branch.Rank - b.Branch.Rank
}

// unemittedParent returns the heaviest parent whose branch has not been
// released yet.
func (db *Database) unemittedParent(t *Tag) *ParentBranch {
	for i := range t.Parents {
		if !t.Parents[i].Branch.Released {
			return &t.Parents[i]
		}
	}
	db.logger.Fatalf("Branch cycle walk ran off released tag %s", t.Name)
	return nil
}

// splitCycle finds the cycle reachable from t and removes its lightest
// edge, releasing the child if that was its last obligation.
func (db *Database) splitCycle(h *heap.Heap, t *Tag) {
	slow, fast := t, t
	for {
		slow = db.unemittedParent(slow).Branch
		fast = db.unemittedParent(db.unemittedParent(fast).Branch).Branch
		if slow == fast {
			break
		}
	}

	best := fast
	bestParent := db.unemittedParent(best)
	for i := bestParent.Branch; i != fast; {
		iParent := db.unemittedParent(i)
		if comparePb(iParent, bestParent) > 0 {
			best = i
			bestParent = iParent
		}
		i = iParent.Branch
	}

	parent := bestParent.Branch
	db.logger.Warnf("Break branch cycle link %s child of %s weight %d",
		best.Name, parent.Name, bestParent.Weight)

	// Remove the parent from the child.
	for i := range best.Parents {
		if &best.Parents[i] == bestParent {
			best.Parents = append(best.Parents[:i], best.Parents[i+1:]...)
			break
		}
	}
	best.Changeset.UnreadyCount--
	if best.Changeset.UnreadyCount == 0 {
		best.Released = true
		h.Insert(best)
	}

	// Remove the child from the parent.
	for i := range parent.Tags {
		if parent.Tags[i].Tag == best {
			parent.Tags = append(parent.Tags[:i], parent.Tags[i+1:]...)
			return
		}
	}
	db.logger.Fatalf("Branch cycle edge %s -> %s not found", parent.Name, best.Name)
}

func (db *Database) branchHeapInit() *heap.Heap {
	h := heap.New(tagCompare)
	for _, t := range db.Tags {
		t.Changeset.UnreadyCount = len(t.Parents)
		if t.Changeset.UnreadyCount == 0 {
			t.Released = true
			h.Insert(t)
		}
	}
	return h
}

func (db *Database) branchHeapNext(h *heap.Heap) *Tag {
	if h.Empty() {
		return nil
	}
	t := h.Pop().(*Tag)
	for i := range t.Tags {
		child := t.Tags[i].Tag
		if child.Changeset.UnreadyCount == 0 {
			db.logger.Fatalf("Tag %s released with zero unready count", child.Name)
		}
		child.Changeset.UnreadyCount--
		if child.Changeset.UnreadyCount == 0 && !child.Released {
			child.Released = true
			h.Insert(child)
		}
	}
	return t
}

// BranchAnalyse - build the weighted tag graph from the file histories and
// reduce it to a DAG.
func (db *Database) BranchAnalyse() {
	// First, go through each tag, and put it on all the branches.
	for _, t := range db.Tags {
		t.Changeset.UnreadyCount = 0
		for _, ft := range t.TagFiles {
			if ft.Version == nil || ft.Version.Branch == nil {
				continue
			}
			b := ft.Version.Branch.Tag
			if b == t {
				continue
			}
			if n := len(b.Tags); n > 0 && b.Tags[n-1].Tag == t {
				b.Tags[n-1].Weight++
				continue
			}
			b.Tags = append(b.Tags, BranchTag{Tag: t, Weight: 1})
		}
	}

	// Now go through each branch and put it onto each tag.
	for _, b := range db.Tags {
		for _, bt := range b.Tags {
			bt.Tag.Parents = append(bt.Tag.Parents, ParentBranch{Branch: b, Weight: bt.Weight})
		}
	}

	// Sort the parent lists, heaviest candidate first.
	for _, t := range db.Tags {
		parents := t.Parents
		sort.Slice(parents, func(i, j int) bool {
			return comparePb(&parents[i], &parents[j]) < 0
		})
	}

	// Cycle breaking pass over the branches.
	h := db.branchHeapInit()
	for db.branchHeapNext(h) != nil {
	}
	for _, t := range db.Tags {
		for !t.Released {
			db.splitCycle(h, t)
			for db.branchHeapNext(h) != nil {
			}
		}
	}
}

// betterThan - deterministic tie-break between equally good parent
// branches: the lower rank wins, so the trunk beats everything.
func betterThan(new, old *Tag) bool {
	if old == nil {
		return true
	}
	return new.Rank < old.Rank
}

func findFileTag(t *Tag, f *File) *FileTag {
	i := sort.Search(len(t.TagFiles), func(i int) bool {
		return t.TagFiles[i].File.Rank >= f.Rank
	})
	if i < len(t.TagFiles) && t.TagFiles[i].File == f {
		return t.TagFiles[i]
	}
	return nil
}

// AssignTagPoint - place a non-exact tag onto the branch that contains most
// of it, at the changeset where the match peaks.
func (db *Database) AssignTagPoint(t *Tag) {
	// Exact matches have already assigned tag points.
	if t.ExactMatch || t == db.Trunk {
		return
	}
	if len(t.Parents) == 0 {
		// Legitimate for branch additions; emits with no parent.
		return
	}

	// Check which parent branch contains the most revisions from the tag.
	bestWeight := -1
	var bestBranch *Tag
	for _, pb := range t.Parents {
		weight := 0
		j, jj := 0, 0
		for j < len(t.TagFiles) && jj < len(pb.Branch.TagFiles) {
			a, b := t.TagFiles[j], pb.Branch.TagFiles[jj]
			if a.File.Rank < b.File.Rank {
				j++
				continue
			}
			if a.File.Rank > b.File.Rank {
				jj++
				continue
			}
			if a.Version != nil &&
				((a.Version.Branch != nil && a.Version.Branch.Tag == pb.Branch) ||
					a.Version == b.Version) {
				weight++
			}
			j++
			jj++
		}
		if weight > bestWeight || (weight == bestWeight && betterThan(pb.Branch, bestBranch)) {
			bestWeight = weight
			bestBranch = pb.Branch
		}
	}

	// Walk the branch changesets, keeping tabs on how many file revisions
	// match; the changeset with the most matches wins.
	current, best := 0, 0
	bestCs := &bestBranch.Changeset
	for _, cs := range bestBranch.Changesets {
		for _, m := range cs.Versions {
			v := m.Normalise()
			ft := findFileTag(t, v.File)
			if ft == nil || ft.Version == nil {
				continue
			}
			if ft.Version == v {
				current++
			} else if v.Parent == ft.Version {
				// The changeset moves the file away from the tag's
				// revision.
				current--
			}
		}
		if current > best {
			best = current
			bestCs = cs
		}
	}

	// Set the tag as a child of the changeset.
	bestCs.AddChild(&t.Changeset)
	t.Changeset.Time = bestCs.Time
	db.logger.Debugf("TagPoint: %s on %s best %d", t.Name, bestBranch.Name, best)
}

// WriteBranchGraph - the analysed branch graph in Graphviz DOT form.
func (db *Database) WriteBranchGraph() string {
	g := dot.NewGraph(dot.Directed)
	nodes := make(map[*Tag]dot.Node)
	for _, t := range db.Tags {
		name := t.Name
		if name == "" {
			name = "(trunk)"
		}
		kind := "tag"
		if t.IsBranch() {
			kind = "branch"
		}
		nodes[t] = g.Node(name).Attr("shape", "box").Attr("tooltip", kind)
	}
	for _, b := range db.Tags {
		for _, bt := range b.Tags {
			g.Edge(nodes[b], nodes[bt.Tag], strconv.Itoa(bt.Weight))
		}
	}
	return g.String()
}
