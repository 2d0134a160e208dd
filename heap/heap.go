package heap

// Indexed binary min-heap.  Each item records its own position in the heap so
// that Remove and Replace work on arbitrary items in O(log n).  An item that
// is not in a heap must report Sentinel.

// Sentinel is the index an item carries while it is not in any heap.
const Sentinel = -1

// Item is anything that can store its heap index.
type Item interface {
	HeapIndex() int
	SetHeapIndex(i int)
}

// Heap is a binary heap ordered by a caller-supplied comparator.
// Compare should return >0 if the first argument is greater than the second,
// and <=0 otherwise.  Thus either a strcmp-like or a '<' like predicate can
// be used.
type Heap struct {
	entries []Item
	compare func(a, b Item) int
}

func New(compare func(a, b Item) int) *Heap {
	return &Heap{entries: make([]Item, 0), compare: compare}
}

func (h *Heap) less(a, b Item) bool {
	return h.compare(b, a) > 0
}

// The heap has a bubble at position; shuffle the bubble downwards to an
// appropriate point, and place item in it.
func (h *Heap) shuffleDown(position int, item Item) {
	num := len(h.entries)
	for {
		child := position*2 + 1
		if child+1 > num {
			break
		}
		if child+1 < num && h.less(h.entries[child+1], h.entries[child]) {
			child++
		}
		if h.less(item, h.entries[child]) {
			break
		}
		h.entries[position] = h.entries[child]
		h.entries[position].SetHeapIndex(position)
		position = child
	}
	h.entries[position] = item
	item.SetHeapIndex(position)
}

// The heap has a bubble at position; shuffle the bubble upwards as far as
// might be needed to insert item, then shuffle down.
func (h *Heap) shuffleUp(position int, item Item) {
	for position > 0 {
		parent := (position - 1) >> 1
		if !h.less(item, h.entries[parent]) {
			break
		}
		h.entries[position] = h.entries[parent]
		h.entries[position].SetHeapIndex(position)
		position = parent
	}
	h.shuffleDown(position, item)
}

func (h *Heap) Insert(item Item) {
	if item.HeapIndex() != Sentinel {
		panic("heap: insert of item already in a heap")
	}
	// Create a bubble at the end.
	h.entries = append(h.entries, nil)
	h.shuffleUp(len(h.entries)-1, item)
}

// Replace removes old and inserts new in a single shuffle.
func (h *Heap) Replace(old, new Item) {
	if old.HeapIndex() == Sentinel {
		panic("heap: replace of item not in heap")
	}
	if new.HeapIndex() != Sentinel {
		panic("heap: replacement already in a heap")
	}
	h.shuffleUp(old.HeapIndex(), new)
	old.SetHeapIndex(Sentinel)
}

func (h *Heap) Remove(item Item) {
	if item.HeapIndex() == Sentinel {
		panic("heap: remove of item not in heap")
	}
	last := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	if item != last {
		// Shuffle the item from the end into the bubble.
		h.shuffleUp(item.HeapIndex(), last)
	}
	item.SetHeapIndex(Sentinel)
}

func (h *Heap) Front() Item {
	return h.entries[0]
}

func (h *Heap) Pop() Item {
	result := h.entries[0]
	last := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	if len(h.entries) != 0 {
		h.shuffleDown(0, last)
	}
	result.SetHeapIndex(Sentinel)
	return result
}

func (h *Heap) Empty() bool {
	return len(h.entries) == 0
}

func (h *Heap) Len() int {
	return len(h.entries)
}
