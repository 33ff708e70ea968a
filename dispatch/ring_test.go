// File: dispatch/ring_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package dispatch

import "testing"

func TestRingEnqueueDequeueOrder(t *testing.T) {
	r := newRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.enqueue(i) {
			t.Fatalf("enqueue %d unexpectedly failed", i)
		}
	}
	if r.enqueue(99) {
		t.Fatal("enqueue into a full ring should fail")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.dequeue()
		if !ok || v != i {
			t.Fatalf("want %d, got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := r.dequeue(); ok {
		t.Fatal("dequeue from an empty ring should fail")
	}
}

func TestRingRoundsCapacityUpToPowerOfTwo(t *testing.T) {
	r := newRing[int](3)
	if len(r.data) != 4 {
		t.Fatalf("want capacity 4, got %d", len(r.data))
	}
}
