// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package timer implements a min-heap timer wheel, transliterated
// from the original hio/lib/tmr.c sift-up/sift-down routines. Every
// heap swap relocates the moved job's back-pointer slot so an owner
// can always locate, update, or delete its own scheduled job in
// O(log n): a job's Index field either equals the heap's actual index
// of that job or is Invalid, never a stale value.
package timer

import "time"

// Invalid marks a Job's Index field as not currently on the heap.
const Invalid = -1

// Handler is invoked when a Job's deadline has passed.
type Handler func(now time.Time, job *Job)

// Job is a single scheduled timer entry. Index is the back-pointer
// slot the heap keeps synchronized; callers should treat it as
// read-only except via Heap's own methods.
type Job struct {
	Deadline time.Time
	Handler  Handler
	Context  any
	Index    int
}

// Heap is a min-heap of *Job ordered by Deadline, sized by doubling;
// shrink is not required (tmr.c does not shrink either).
type Heap struct {
	jobs []*Job
}

// New returns an empty timer heap.
func New() *Heap {
	return &Heap{jobs: make([]*Job, 0, 16)}
}

// Len returns the number of jobs currently scheduled.
func (h *Heap) Len() int { return len(h.jobs) }

func younger(a, b *Job) bool { return a.Deadline.Before(b.Deadline) }

func parentOf(i int) int { return (i - 1) / 2 }
func leftOf(i int) int   { return i*2 + 1 }
func rightOf(i int) int  { return i*2 + 2 }

func (h *Heap) set(i int, j *Job) {
	h.jobs[i] = j
	j.Index = i
}

func (h *Heap) siftUp(index int) int {
	item := h.jobs[index]
	for index > 0 {
		parent := parentOf(index)
		if !younger(item, h.jobs[parent]) {
			break
		}
		h.set(index, h.jobs[parent])
		index = parent
	}
	h.set(index, item)
	return index
}

func (h *Heap) siftDown(index int) int {
	n := len(h.jobs)
	item := h.jobs[index]
	for {
		left, right := leftOf(index), rightOf(index)
		if left >= n {
			break
		}
		child := left
		if right < n && younger(h.jobs[right], h.jobs[left]) {
			child = right
		}
		if !younger(h.jobs[child], item) {
			break
		}
		h.set(index, h.jobs[child])
		index = child
	}
	h.set(index, item)
	return index
}

// Insert schedules a new job and returns its current heap index.
func (h *Heap) Insert(job *Job) int {
	job.Index = len(h.jobs)
	h.jobs = append(h.jobs, job)
	return h.siftUp(job.Index)
}

// SchedAt schedules handler to run at the given absolute deadline.
func (h *Heap) SchedAt(deadline time.Time, handler Handler, ctx any) *Job {
	job := &Job{Deadline: deadline, Handler: handler, Context: ctx}
	h.Insert(job)
	return job
}

// SchedAfter schedules handler to run after the given delay.
func (h *Heap) SchedAfter(delay time.Duration, handler Handler, ctx any) *Job {
	return h.SchedAt(time.Now().Add(delay), handler, ctx)
}

// Update changes job's deadline in place and re-heapifies it,
// returning its new index. job must currently be on the heap.
func (h *Heap) Update(job *Job, deadline time.Time) int {
	index := job.Index
	job.Deadline = deadline
	down := h.siftDown(index)
	if down == index {
		return h.siftUp(index)
	}
	return down
}

// Delete removes the job at the given heap index, nulling its
// back-pointer slot so re-entrant use after delete is always safe.
func (h *Heap) Delete(index int) {
	n := len(h.jobs) - 1
	last := h.jobs[n]
	removed := h.jobs[index]
	removed.Index = Invalid

	h.jobs[index] = last
	h.jobs = h.jobs[:n]
	if index < n {
		h.set(index, last)
		if h.siftDown(index) == index {
			h.siftUp(index)
		}
	}
}

// Del deletes job if it is still scheduled (Index != Invalid); it is
// a no-op otherwise, so deleting an already-fired or already-deleted
// job is always safe.
func (h *Heap) Del(job *Job) {
	if job.Index == Invalid {
		return
	}
	h.Delete(job.Index)
}

// FireDue pops and invokes every job whose deadline has passed as of
// now, returning how many fired. The heap deletes a job before
// invoking its handler, so a handler may safely re-insert itself
// (possibly landing back on the freed slot) without aliasing a live
// entry — matching tmr.c's firing policy.
func (h *Heap) FireDue(now time.Time) int {
	count := 0
	for len(h.jobs) > 0 {
		top := h.jobs[0]
		if top.Deadline.After(now) {
			break
		}
		h.Delete(0)
		top.Handler(now, top)
		count++
	}
	return count
}

// NextTimeout returns the duration until the next job is due, and
// false if no job is scheduled (the reactor loop then blocks
// indefinitely on I/O alone).
func (h *Heap) NextTimeout(now time.Time) (time.Duration, bool) {
	if len(h.jobs) == 0 {
		return 0, false
	}
	d := h.jobs[0].Deadline.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}
