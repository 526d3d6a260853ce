package pool

const nilIndex = int32(-1)

type listKind uint8

const (
	inNoList listKind = iota
	inEmptyList
	inVictimList
)

// links holds the prev/next pointers of every block. A block is in at most
// one list at a time, so the empty and victim lists share the arrays.
type links struct {
	prev  []int32
	next  []int32
	where []listKind
}

func newLinks(n int) links {
	l := links{
		prev:  make([]int32, n),
		next:  make([]int32, n),
		where: make([]listKind, n),
	}

	for i := range l.prev {
		l.prev[i] = nilIndex
		l.next[i] = nilIndex
	}

	return l
}

// blockList is a doubly linked list of arena indices.
type blockList struct {
	head  int32
	tail  int32
	count int
}

func newBlockList() blockList {
	return blockList{head: nilIndex, tail: nilIndex}
}

func (l *blockList) pushBack(ln *links, idx int32, kind listKind) {
	ln.prev[idx] = l.tail
	ln.next[idx] = nilIndex

	if l.tail == nilIndex {
		l.head = idx
	} else {
		ln.next[l.tail] = idx
	}

	l.tail = idx
	l.count++
	ln.where[idx] = kind
}

func (l *blockList) remove(ln *links, idx int32) {
	p, n := ln.prev[idx], ln.next[idx]

	if p == nilIndex {
		l.head = n
	} else {
		ln.next[p] = n
	}

	if n == nilIndex {
		l.tail = p
	} else {
		ln.prev[n] = p
	}

	ln.prev[idx] = nilIndex
	ln.next[idx] = nilIndex
	ln.where[idx] = inNoList
	l.count--
}

func (l *blockList) indices(ln *links) []int {
	out := make([]int, 0, l.count)
	for i := l.head; i != nilIndex; i = ln.next[i] {
		out = append(out, int(i))
	}

	return out
}
