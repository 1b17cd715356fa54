// Package rbtree implements a small augmented red-black tree keyed by
// (deadline, sequence) with an O(1)-read cached leftmost pointer, backing
// the deadline runqueue's I1 invariant: the leftmost entity always has the
// smallest absolute deadline among runnable entities.
//
// No tree or heap library appears anywhere in the retrieved example pack
// (see DESIGN.md "Stdlib justifications"); this is hand-rolled core
// algorithmic code, not an ambient concern a third-party dependency could
// serve, since the deadline runqueue needs arbitrary O(log N) deletion by
// node identity plus a cached minimum, which a library heap does not
// offer without an auxiliary index.
package rbtree

// color is a node's red-black color.
type color bool

const (
	red   color = true
	black color = false
)

// Node is an intrusive tree node. Callers receive the *Node from Insert and
// must retain it to call Delete; the Payload field carries the caller's own
// identifier (a task ID) so the tree never needs to know about tasks.
type Node struct {
	left, right, parent *Node
	clr                 color

	Key     int64
	Seq     uint64
	Payload any
}

// Tree is a red-black tree ordered by (Key, Seq) ascending, with a cached
// pointer to the minimum (leftmost) node.
type Tree struct {
	root     *Node
	nilNode  *Node
	leftmost *Node
	size     int
}

// New returns an empty tree.
func New() *Tree {
	sentinel := &Node{clr: black}
	sentinel.left, sentinel.right, sentinel.parent = sentinel, sentinel, sentinel

	return &Tree{root: sentinel, nilNode: sentinel}
}

// Len returns the number of nodes currently in the tree.
func (t *Tree) Len() int {
	return t.size
}

// Min returns the cached leftmost node, or nil if the tree is empty. This
// is the I1 invariant's "leftmost entity" read path: O(1), not a walk.
func (t *Tree) Min() *Node {
	if t.leftmost == t.nilNode {
		return nil
	}

	return t.leftmost
}

func less(aKey int64, aSeq uint64, bKey int64, bSeq uint64) bool {
	if aKey != bKey {
		return aKey < bKey
	}

	return aSeq < bSeq
}

// Insert adds (key, seq, payload) and returns the new node. seq should be a
// strictly increasing tie-breaker (e.g. an insertion counter or task ID) so
// that equal-deadline entities still have a total order.
func (t *Tree) Insert(key int64, seq uint64, payload any) *Node {
	n := &Node{Key: key, Seq: seq, Payload: payload, clr: red}
	n.left, n.right, n.parent = t.nilNode, t.nilNode, t.nilNode

	var parent *Node

	cur := t.root
	for cur != t.nilNode {
		parent = cur
		if less(key, seq, cur.Key, cur.Seq) {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}

	n.parent = parent
	if parent == nil {
		t.root = n
	} else if less(key, seq, parent.Key, parent.Seq) {
		parent.left = n
	} else {
		parent.right = n
	}

	t.size++
	t.insertFixup(n)
	t.recomputeLeftmost()

	return n
}

// Delete removes n from the tree. n must have been returned by a prior
// Insert on this tree and not already removed.
func (t *Tree) Delete(n *Node) {
	y := n
	yOriginalColor := y.clr

	var x *Node

	if n.left == t.nilNode {
		x = n.right
		t.transplant(n, n.right)
	} else if n.right == t.nilNode {
		x = n.left
		t.transplant(n, n.left)
	} else {
		y = t.subtreeMin(n.right)
		yOriginalColor = y.clr
		x = y.right

		if y.parent == n {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = n.right
			y.right.parent = y
		}

		t.transplant(n, y)
		y.left = n.left
		y.left.parent = y
		y.clr = n.clr
	}

	if yOriginalColor == black {
		t.deleteFixup(x)
	}

	t.size--
	t.recomputeLeftmost()
}

func (t *Tree) recomputeLeftmost() {
	if t.root == t.nilNode {
		t.leftmost = t.nilNode

		return
	}

	t.leftmost = t.subtreeMin(t.root)
}

func (t *Tree) subtreeMin(n *Node) *Node {
	for n.left != t.nilNode {
		n = n.left
	}

	return n
}

func (t *Tree) transplant(u, v *Node) {
	switch {
	case u.parent == nil:
		t.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}

	v.parent = u.parent
}

func (t *Tree) leftRotate(x *Node) {
	y := x.right
	x.right = y.left

	if y.left != t.nilNode {
		y.left.parent = x
	}

	y.parent = x.parent

	switch {
	case x.parent == nil:
		t.root = y
	case x == x.parent.left:
		x.parent.left = y
	default:
		x.parent.right = y
	}

	y.left = x
	x.parent = y
}

func (t *Tree) rightRotate(x *Node) {
	y := x.left
	x.left = y.right

	if y.right != t.nilNode {
		y.right.parent = x
	}

	y.parent = x.parent

	switch {
	case x.parent == nil:
		t.root = y
	case x == x.parent.right:
		x.parent.right = y
	default:
		x.parent.left = y
	}

	y.right = x
	x.parent = y
}

func (t *Tree) insertFixup(z *Node) {
	for z.parent != nil && z.parent.clr == red {
		gp := z.parent.parent
		if gp == nil {
			break
		}

		if z.parent == gp.left {
			uncle := gp.right
			if uncle.clr == red {
				z.parent.clr = black
				uncle.clr = black
				gp.clr = red
				z = gp

				continue
			}

			if z == z.parent.right {
				z = z.parent
				t.leftRotate(z)
			}

			z.parent.clr = black
			gp.clr = red
			t.rightRotate(gp)
		} else {
			uncle := gp.left
			if uncle.clr == red {
				z.parent.clr = black
				uncle.clr = black
				gp.clr = red
				z = gp

				continue
			}

			if z == z.parent.left {
				z = z.parent
				t.rightRotate(z)
			}

			z.parent.clr = black
			gp.clr = red
			t.leftRotate(gp)
		}
	}

	t.root.clr = black
}

func (t *Tree) deleteFixup(x *Node) {
	for x != t.root && x.clr == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.clr == red {
				w.clr = black
				x.parent.clr = red
				t.leftRotate(x.parent)
				w = x.parent.right
			}

			if w.left.clr == black && w.right.clr == black {
				w.clr = red
				x = x.parent

				continue
			}

			if w.right.clr == black {
				w.left.clr = black
				w.clr = red
				t.rightRotate(w)
				w = x.parent.right
			}

			w.clr = x.parent.clr
			x.parent.clr = black
			w.right.clr = black
			t.leftRotate(x.parent)
			x = t.root
		} else {
			w := x.parent.left
			if w.clr == red {
				w.clr = black
				x.parent.clr = red
				t.rightRotate(x.parent)
				w = x.parent.left
			}

			if w.right.clr == black && w.left.clr == black {
				w.clr = red
				x = x.parent

				continue
			}

			if w.left.clr == black {
				w.right.clr = black
				w.clr = red
				t.leftRotate(w)
				w = x.parent.left
			}

			w.clr = x.parent.clr
			x.parent.clr = black
			w.left.clr = black
			t.rightRotate(x.parent)
			x = t.root
		}
	}

	x.clr = black
}

// InOrder calls visit for every node in ascending (Key, Seq) order. Intended
// for tests and diagnostics, not the hot path.
func (t *Tree) InOrder(visit func(*Node)) {
	var walk func(*Node)

	walk = func(n *Node) {
		if n == t.nilNode {
			return
		}

		walk(n.left)
		visit(n)
		walk(n.right)
	}

	walk(t.root)
}
