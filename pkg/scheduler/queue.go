package scheduler

import "container/heap"

// jobQueue is a min-heap on (priority rank, sequence): strict priority
// across bands and FIFO inside a band.
type jobQueue []*Job

var _ heap.Interface = (*jobQueue)(nil)

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	ri, rj := q[i].Priority.Rank(), q[j].Priority.Rank()
	if ri != rj {
		return ri < rj
	}

	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	job, _ := x.(*Job)
	job.index = len(*q)
	*q = append(*q, job)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*q = old[:n-1]

	return job
}
