// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lockfree

import "code.hybscloud.com/atomix"

// Stack is a lock-free LIFO whose nodes are slots of an internal Arena.
// Push and Pop are safe for concurrent use by any number of goroutines.
// The zero value is an empty stack.
type Stack[T any] struct {
	head  atomix.Uint64
	nodes Arena[T]
}

// Push puts v on top of the stack.
func (s *Stack[T]) Push(v T) {
	i, p := s.nodes.Alloc()
	*p = v
	s.nodes.push(&s.head, i)
}

// Pop removes and returns the top value. ok is false if the stack is empty.
func (s *Stack[T]) Pop() (v T, ok bool) {
	i, ok := s.nodes.pop(&s.head)
	if !ok {
		return v, false
	}
	p := s.nodes.At(i)
	v = *p
	var zero T
	*p = zero
	s.nodes.Free(i)
	return v, true
}

// PopAll detaches every value at once and calls yield on each, top first.
// Values pushed after the detach are not visited.
func (s *Stack[T]) PopAll(yield func(T)) {
	var zero T
	for i := s.nodes.flush(&s.head); i != Nil; {
		n := s.nodes.slot(i)
		next := n.next.Load()
		v := n.val
		n.val = zero
		s.nodes.Free(i)
		yield(v)
		i = next
	}
}

// Empty reports whether the stack was empty at the time of the call.
func (s *Stack[T]) Empty() bool {
	_, _, ok := unpackHead(s.head.Load())
	return !ok
}

// Len returns the number of values on the stack.
func (s *Stack[T]) Len() int {
	return s.nodes.Len()
}
