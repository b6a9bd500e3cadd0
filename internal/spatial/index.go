// Package spatial indexes clip time ranges for point and range lookup.
//
// The index is an augmented binary search tree ordered by start time.
// Inserts and removals are incremental. An insert that lands deeper than
// log_{1/alpha}(n) rebuilds the smallest weight-unbalanced subtree above
// it, so sorted inserts stay logarithmic. Once the modifications since
// the last full rebuild reach the threshold (or half the index size,
// whichever is larger) the whole tree is rebuilt perfectly balanced.
package spatial

import (
	"math"
	"sort"

	"github.com/ivlev/timeline/internal/timebase"
)

// DefaultRebuildThreshold is used when NewIndex gets a non-positive threshold.
const DefaultRebuildThreshold = 64

// alpha is the weight balance bound, as tenths: a child may hold at most
// 7/10 of its parent's subtree.
const alpha = 7

var logInvAlpha = math.Log(10.0 / alpha)

type node struct {
	id     uint64
	r      timebase.Range
	maxEnd timebase.Tick
	size   int
	left   *node
	right  *node
}

// Index maps ids to half-open time ranges.
type Index struct {
	root      *node
	ranges    map[uint64]timebase.Range
	threshold int
	mods      int
	rebuilds  int
	partial   int
}

// NewIndex creates an empty index.
func NewIndex(threshold int) *Index {
	if threshold <= 0 {
		threshold = DefaultRebuildThreshold
	}
	return &Index{
		ranges:    make(map[uint64]timebase.Range),
		threshold: threshold,
	}
}

func (x *Index) Len() int {
	return len(x.ranges)
}

// Range returns the interval stored for id.
func (x *Index) Range(id uint64) (timebase.Range, bool) {
	r, ok := x.ranges[id]
	return r, ok
}

// Rebuilds reports how many full rebuilds have happened.
func (x *Index) Rebuilds() int {
	return x.rebuilds
}

// PartialRebuilds reports how many subtree rebuilds inserts have triggered.
func (x *Index) PartialRebuilds() int {
	return x.partial
}

// Pending reports the modifications made since the last rebuild.
func (x *Index) Pending() int {
	return x.mods
}

// Insert adds id with range r, replacing any previous range for id.
func (x *Index) Insert(id uint64, r timebase.Range) {
	if _, ok := x.ranges[id]; ok {
		x.Remove(id)
	}
	x.ranges[id] = r
	deep := false
	x.root = x.insert(x.root, &node{id: id, r: r, maxEnd: r.End, size: 1}, 0, &deep)
	x.mods++
	x.maybeRebuild()
}

// Remove deletes id and reports whether it was present.
func (x *Index) Remove(id uint64) bool {
	r, ok := x.ranges[id]
	if !ok {
		return false
	}
	delete(x.ranges, id)
	x.root = remove(x.root, id, r)
	x.mods++
	x.maybeRebuild()
	return true
}

// Update moves id to a new range.
func (x *Index) Update(id uint64, r timebase.Range) {
	x.Insert(id, r)
}

// QueryPoint returns the ids whose range contains t, sorted by id.
func (x *Index) QueryPoint(t timebase.Tick) []uint64 {
	return x.QueryRange(timebase.Range{Start: t, End: t + 1})
}

// QueryRange returns the ids whose range overlaps q, sorted by id.
func (x *Index) QueryRange(q timebase.Range) []uint64 {
	if q.Empty() {
		return nil
	}
	var out []uint64
	search(x.root, q, &out)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rebuild rebalances the tree from scratch.
func (x *Index) Rebuild() {
	nodes := make([]*node, 0, len(x.ranges))
	for id, r := range x.ranges {
		nodes = append(nodes, &node{id: id, r: r})
	}
	sort.Slice(nodes, func(i, j int) bool { return less(nodes[i].r.Start, nodes[i].id, nodes[j].r.Start, nodes[j].id) })
	x.root = build(nodes)
	x.mods = 0
	x.rebuilds++
}

// Height is the depth of the deepest node, mostly for tests.
func (x *Index) Height() int {
	return height(x.root)
}

func (x *Index) maybeRebuild() {
	if x.mods >= max(x.threshold, len(x.ranges)/2) {
		x.Rebuild()
	}
}

// depthBound is the deepest a node may sit in an alpha-balanced tree of n nodes.
func depthBound(n int) int {
	if n <= 1 {
		return 0
	}
	return int(math.Log(float64(n)) / logInvAlpha)
}

// insert places nn under n. deep stays set while nn is below the depth
// bound and no ancestor has been rebuilt yet.
func (x *Index) insert(n, nn *node, depth int, deep *bool) *node {
	if n == nil {
		*deep = depth > depthBound(len(x.ranges))
		return nn
	}
	if less(nn.r.Start, nn.id, n.r.Start, n.id) {
		n.left = x.insert(n.left, nn, depth+1, deep)
	} else {
		n.right = x.insert(n.right, nn, depth+1, deep)
	}
	fix(n)
	if *deep && unbalanced(n) {
		*deep = false
		x.partial++
		return build(flatten(n, make([]*node, 0, n.size)))
	}
	return n
}

func unbalanced(n *node) bool {
	return size(n.left)*10 > n.size*alpha || size(n.right)*10 > n.size*alpha
}

func flatten(n *node, out []*node) []*node {
	if n == nil {
		return out
	}
	out = flatten(n.left, out)
	out = append(out, n)
	return flatten(n.right, out)
}

func size(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func less(s1 timebase.Tick, id1 uint64, s2 timebase.Tick, id2 uint64) bool {
	if s1 != s2 {
		return s1 < s2
	}
	return id1 < id2
}

func remove(n *node, id uint64, r timebase.Range) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.id == id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		// Replace with the in-order successor
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		n.right = remove(n.right, succ.id, succ.r)
		n.id, n.r = succ.id, succ.r
	case less(r.Start, id, n.r.Start, n.id):
		n.left = remove(n.left, id, r)
	default:
		n.right = remove(n.right, id, r)
	}
	fix(n)
	return n
}

func search(n *node, q timebase.Range, out *[]uint64) {
	if n == nil || n.maxEnd <= q.Start {
		return
	}
	search(n.left, q, out)
	if n.r.Overlaps(q) {
		*out = append(*out, n.id)
	}
	// Everything to the right starts at or after n
	if n.r.Start < q.End {
		search(n.right, q, out)
	}
}

func build(nodes []*node) *node {
	if len(nodes) == 0 {
		return nil
	}
	mid := len(nodes) / 2
	n := nodes[mid]
	n.left = build(nodes[:mid])
	n.right = build(nodes[mid+1:])
	fix(n)
	return n
}

func fix(n *node) {
	n.size = 1 + size(n.left) + size(n.right)
	n.maxEnd = n.r.End
	if n.left != nil && n.left.maxEnd > n.maxEnd {
		n.maxEnd = n.left.maxEnd
	}
	if n.right != nil && n.right.maxEnd > n.maxEnd {
		n.maxEnd = n.right.maxEnd
	}
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return 1 + max(height(n.left), height(n.right))
}
