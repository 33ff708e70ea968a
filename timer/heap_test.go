// File: timer/heap_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHeapOrdersByDeadline(t *testing.T) {
	h := New()
	base := time.Now()
	var fired []int

	h.SchedAt(base.Add(3*time.Millisecond), func(time.Time, *Job) { fired = append(fired, 3) }, nil)
	h.SchedAt(base.Add(1*time.Millisecond), func(time.Time, *Job) { fired = append(fired, 1) }, nil)
	h.SchedAt(base.Add(2*time.Millisecond), func(time.Time, *Job) { fired = append(fired, 2) }, nil)

	n := h.FireDue(base.Add(10 * time.Millisecond))
	require.Equal(t, 3, n)
	require.Equal(t, []int{1, 2, 3}, fired)
	require.Equal(t, 0, h.Len())
}

func TestBackPointerNeverStale(t *testing.T) {
	h := New()
	base := time.Now()
	jobs := make([]*Job, 0, 20)
	for i := 0; i < 20; i++ {
		j := h.SchedAt(base.Add(time.Duration(20-i)*time.Millisecond), func(time.Time, *Job) {}, nil)
		jobs = append(jobs, j)
	}
	for _, j := range jobs {
		require.Equal(t, j, h.jobs[j.Index])
	}
	// delete a handful from the middle and re-check everyone remaining.
	h.Del(jobs[5])
	h.Del(jobs[10])
	for _, j := range jobs {
		if j.Index == Invalid {
			continue
		}
		require.Equal(t, j, h.jobs[j.Index])
	}
}

func TestDeleteAlreadyFiredIsNoop(t *testing.T) {
	h := New()
	job := h.SchedAfter(-time.Millisecond, func(time.Time, *Job) {}, nil)
	h.FireDue(time.Now())
	require.Equal(t, Invalid, job.Index)
	require.NotPanics(t, func() { h.Del(job) })
}

func TestUpdateReschedules(t *testing.T) {
	h := New()
	base := time.Now()
	var order []int
	a := h.SchedAt(base.Add(5*time.Millisecond), func(time.Time, *Job) { order = append(order, 1) }, nil)
	h.SchedAt(base.Add(1*time.Millisecond), func(time.Time, *Job) { order = append(order, 2) }, nil)

	h.Update(a, base.Add(-time.Millisecond))
	h.FireDue(base.Add(2 * time.Millisecond))
	require.Equal(t, []int{1, 2}, order)
}
