// Package ilist implements singly linked free lists whose nodes live inside
// the memory they describe.
//
// A node occupies NodeSize bytes at an arena offset:
//
//	0x00  next   (u64)  arena offset of the next node + 1, 0 terminates
//	0x08  value  (u64)  payload tracked by the owner (frame index, slot address)
//
// The list itself only holds the head link and a length, so an owner keeps one
// List per order or size class and the arena keeps all node storage. Links are
// offsets into the arena rather than Go pointers, which keeps the structure
// valid across remapping and free of aliasing between lists.
//
// Lists are not thread-safe.
package ilist

import "github.com/joshuapare/kernkit/internal/format"

// NodeSize is the number of arena bytes a node overlays.
const NodeSize = 16

const (
	nextOff  = 0
	valueOff = 8
)

// List is the head of an intrusive list.
type List struct {
	head uint64 // offset of first node + 1, 0 when empty
	size int
}

// Len returns the number of nodes in the list.
func (l *List) Len() int { return l.size }

// Empty reports whether the list has no nodes.
func (l *List) Empty() bool { return l.head == 0 }

// Reset forgets every node without touching the arena.
func (l *List) Reset() {
	l.head = 0
	l.size = 0
}

// InitNode writes a detached node holding value at off.
func InitNode(arena []byte, off, value uint64) {
	format.PutWord(arena, int(off)+nextOff, 0)
	format.PutWord(arena, int(off)+valueOff, value)
}

// Value returns the payload of the node at off.
func Value(arena []byte, off uint64) uint64 {
	return format.ReadWord(arena, int(off)+valueOff)
}

func next(arena []byte, off uint64) uint64 {
	return format.ReadWord(arena, int(off)+nextOff)
}

func setNext(arena []byte, off, link uint64) {
	format.PutWord(arena, int(off)+nextOff, link)
}

// Push initialises a node holding value at off and links it at the head.
func (l *List) Push(arena []byte, off, value uint64) {
	InitNode(arena, off, value)
	setNext(arena, off, l.head)
	l.head = off + 1
	l.size++
}

// Pop unlinks the head node and returns its offset and value.
func (l *List) Pop(arena []byte) (off, value uint64, ok bool) {
	if l.head == 0 {
		return 0, 0, false
	}
	off = l.head - 1
	value = Value(arena, off)
	l.head = next(arena, off)
	setNext(arena, off, 0)
	l.size--
	return off, value, true
}

// Remove unlinks the first node whose value equals value.
func (l *List) Remove(arena []byte, value uint64) (off uint64, ok bool) {
	prev := uint64(0) // link of the node pointing at cur, 0 means the head
	cur := l.head
	for cur != 0 {
		node := cur - 1
		if Value(arena, node) == value {
			succ := next(arena, node)
			if prev == 0 {
				l.head = succ
			} else {
				setNext(arena, prev-1, succ)
			}
			setNext(arena, node, 0)
			l.size--
			return node, true
		}
		prev = cur
		cur = next(arena, node)
	}
	return 0, false
}

// Contains reports whether a node holding value is linked.
func (l *List) Contains(arena []byte, value uint64) bool {
	found := false
	l.Walk(arena, func(_, v uint64) bool {
		if v == value {
			found = true
			return false
		}
		return true
	})
	return found
}

// Walk calls fn for each node from head to tail until fn returns false.
func (l *List) Walk(arena []byte, fn func(off, value uint64) bool) {
	for cur := l.head; cur != 0; {
		node := cur - 1
		succ := next(arena, node)
		if !fn(node, Value(arena, node)) {
			return
		}
		cur = succ
	}
}
