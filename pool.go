package qrelay

import (
	"context"
	"runtime"
	"sync"
)

// Job is one schedulable unit of work in the pool: in qrelay this is always
// a *ConnectionTask (§4.9, §4.10). TryLock/Unlock give the per-job
// exclusion required so at most one worker drives a job at a time even
// though several workers may observe it during a list scan (§4.9, §5).
type Job interface {
	TryLock() bool
	Unlock()
	// Perform drives the job forward using the worker's private session and
	// reports whether the job should be returned to the list (true, "not
	// finished") or dropped from it permanently (false, "finished") — the
	// polarity §4.10 specifies.
	Perform(ctx context.Context, session *Session) (alive bool)
}

// JobList is the worker pool's shared work queue (C10). Workers take() one
// available job, invoke Perform with their own session, and release it;
// finished jobs are dropped. An empty list parks workers on a condition
// variable. Lock() is a one-way transition used at shutdown: once locked,
// Take wakes every parked worker with ErrPoolLocked and no new jobs can be
// added.
//
// Grounded on the mutex+sync.Cond worker-pool pattern used by connection
// pools in the retrieved corpus (db-bouncer's TenantPool), adapted here to
// hold jobs rather than pooled connections.
type JobList struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []Job
	locked bool
}

// NewJobList returns an empty, unlocked job list.
func NewJobList() *JobList {
	l := &JobList{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Add registers a new job and wakes one parked worker.
func (l *JobList) Add(j Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return
	}
	l.jobs = append(l.jobs, j)
	l.cond.Signal()
}

// Wake is called by the transport layer whenever new input arrives for a
// connection already in the list, so a parked worker can pick it back up
// (§4.9's event-driven wake-up).
func (l *JobList) Wake() {
	l.mu.Lock()
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Take scans the list from index 0 (§4.9's linear fairness rule) for the
// first job whose try-lock succeeds, blocking on the condition variable
// while the list is empty or every job is already held. It returns
// ErrPoolLocked once the list has been locked for shutdown.
func (l *JobList) Take() (Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.locked {
			return nil, ErrPoolLocked
		}
		for _, j := range l.jobs {
			if j.TryLock() {
				return j, nil
			}
		}
		l.cond.Wait()
	}
}

// Done releases the job's lock and, if alive is false ("finished" per
// §4.10), removes it from the list permanently.
func (l *JobList) Done(j Job, alive bool) {
	j.Unlock()
	if alive {
		return
	}
	l.mu.Lock()
	for i, cand := range l.jobs {
		if cand == j {
			l.jobs = append(l.jobs[:i], l.jobs[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
}

// Lock is the one-way shutdown transition: no further job can be taken and
// every parked worker is woken to observe ErrPoolLocked (invariant #8).
func (l *JobList) Lock() {
	l.mu.Lock()
	l.locked = true
	l.mu.Unlock()
	l.cond.Broadcast()
}

// WorkerCount returns N = ceil(hardware_concurrency/2), minimum 1 (§4.9).
// Server.Listen starts N+1 worker goroutines, the extra one standing in for
// the main thread's worker.
func WorkerCount() int {
	n := (runtime.NumCPU() + 1) / 2
	if n < 1 {
		n = 1
	}
	return n
}

// RunWorker repeatedly takes a job, drives it with session, and returns it
// to the list, until the list is locked for shutdown. store provides the
// single persistence session this worker owns for its entire lifetime
// (§4.4, §5).
func RunWorker(ctx context.Context, list *JobList, store *Store) {
	session, err := store.NewSession(ctx)
	if err != nil {
		return
	}
	defer session.Close()

	for {
		job, err := list.Take()
		if err != nil {
			return
		}
		alive := job.Perform(ctx, session)
		list.Done(job, alive)
	}
}
