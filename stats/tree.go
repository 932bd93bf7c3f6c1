/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats implements the order-statistics tree and clock-offset
// estimator used to turn accumulated OWD/RTT samples into summary
// statistics (spec §4.C, §4.D). Neither the teacher nor the rest of
// the retrieval pack carries a library for either of these, so both
// are built against the standard library only — see DESIGN.md.
package stats

import "math"

// node is one AVL node, augmented with subtree size for O(log n)
// rank/select.
type node struct {
	value       float64
	left, right *node
	height      int
	size        int
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func size(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func update(n *node) {
	n.height = 1 + max(height(n.left), height(n.right))
	n.size = 1 + size(n.left) + size(n.right)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func balanceFactor(n *node) int {
	if n == nil {
		return 0
	}
	return height(n.left) - height(n.right)
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	update(y)
	update(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	update(x)
	update(y)
	return y
}

func rebalance(n *node) *node {
	update(n)
	bf := balanceFactor(n)
	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

func insert(n *node, v float64) *node {
	if n == nil {
		return &node{value: v, height: 1, size: 1}
	}
	if v < n.value {
		n.left = insert(n.left, v)
	} else {
		n.right = insert(n.right, v)
	}
	return rebalance(n)
}

func minNode(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

func deleteNode(n *node, v float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case v < n.value:
		n.left = deleteNode(n.left, v)
	case v > n.value:
		n.right = deleteNode(n.right, v)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := minNode(n.right)
		n.value = succ.value
		n.right = deleteNode(n.right, succ.value)
	}
	return rebalance(n)
}

func selectNode(n *node, k int) *node {
	if n == nil {
		return nil
	}
	ls := size(n.left)
	switch {
	case k < ls:
		return selectNode(n.left, k)
	case k > ls:
		return selectNode(n.right, k-ls-1)
	default:
		return n
	}
}

// rankOf returns the 0-based index of the first occurrence of v in
// ascending order, and whether v is present.
func rankOf(n *node, v float64) (int, bool) {
	rank := 0
	found := false
	for n != nil {
		if v <= n.value {
			if v == n.value {
				found = true
			}
			n = n.left
		} else {
			rank += size(n.left) + 1
			n = n.right
		}
	}
	if !found {
		return 0, false
	}
	return rank, true
}

func inorder(n *node, out []float64, i *int) {
	if n == nil {
		return
	}
	inorder(n.left, out, i)
	out[*i] = n.value
	*i++
	inorder(n.right, out, i)
}

// Tree is an AVL-balanced binary search tree over float64 values that
// supports O(log n) insert, delete, rank, and select, and derives
// percentile/median/mean/variance from those primitives.
type Tree struct {
	root *node
}

// Insert adds v to the tree. Duplicate values are retained (this is a
// multiset, matching the teacher corpus's sample-accumulation use).
func (t *Tree) Insert(v float64) {
	t.root = insert(t.root, v)
}

// Delete removes one occurrence of v, if present.
func (t *Tree) Delete(v float64) {
	t.root = deleteNode(t.root, v)
}

// Len returns the number of values currently stored.
func (t *Tree) Len() int {
	return size(t.root)
}

// Select returns the k-th smallest value (0-based).
func (t *Tree) Select(k int) (float64, bool) {
	if k < 0 || k >= t.Len() {
		return 0, false
	}
	return selectNode(t.root, k).value, true
}

// Rank returns the 0-based position of v in ascending order, and
// whether v is present in the tree.
func (t *Tree) Rank(v float64) (int, bool) {
	return rankOf(t.root, v)
}

// Min returns the smallest stored value.
func (t *Tree) Min() (float64, bool) {
	return t.Select(0)
}

// Max returns the largest stored value.
func (t *Tree) Max() (float64, bool) {
	return t.Select(t.Len() - 1)
}

// Percentile returns the linearly-interpolated p-th percentile
// (p in [0,100]); spec §4.C's rank/interpolation formula.
func (t *Tree) Percentile(p float64) (float64, bool) {
	n := t.Len()
	if n == 0 {
		return 0, false
	}
	if n == 1 {
		return t.root.value, true
	}
	pos := p / 100 * float64(n-1)
	rank := int(pos)
	alpha := pos - float64(rank)
	lo, _ := t.Select(rank)
	if rank+1 >= n {
		return lo, true
	}
	hi, _ := t.Select(rank + 1)
	return lo + alpha*(hi-lo), true
}

// Median is Percentile(50).
func (t *Tree) Median() (float64, bool) {
	return t.Percentile(50)
}

// Values returns every stored value in ascending order.
func (t *Tree) Values() []float64 {
	out := make([]float64, t.Len())
	i := 0
	inorder(t.root, out, &i)
	return out
}

// Mean is computed with one O(n) in-order traversal. Variance and
// StdDev take two: one for the mean, then one summing squared
// deviations from it; they do not sum values and squares in one pass.
func (t *Tree) Mean() (float64, bool) {
	n := t.Len()
	if n == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range t.Values() {
		sum += v
	}
	return sum / float64(n), true
}

func (t *Tree) Variance() (float64, bool) {
	n := t.Len()
	if n == 0 {
		return 0, false
	}
	mean, _ := t.Mean()
	var sumSq float64
	for _, v := range t.Values() {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(n), true
}

func (t *Tree) StdDev() (float64, bool) {
	v, ok := t.Variance()
	if !ok {
		return 0, false
	}
	return math.Sqrt(v), true
}
