package job

import "sort"

// Less reports whether a precedes b in FIFO order: created_at, then
// queued_at, then job_id. This is the claim order and the ranking order.
func Less(a, b *Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	return a.ID.String() < b.ID.String()
}

// SortFIFO sorts jobs in place by Less.
func SortFIFO(jobs []*Job) {
	sort.SliceStable(jobs, func(i, k int) bool { return Less(jobs[i], jobs[k]) })
}
