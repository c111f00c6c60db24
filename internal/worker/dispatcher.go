package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"maaspace/internal/logger"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to pooled workers, rotating between users so one
// busy user cannot starve the rest.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	log      *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running sync.WaitGroup

	mu        sync.Mutex
	queues    map[string]*userQueue // job queue for each user
	ready     *list.List            // round-robin queue of user IDs
	positions map[string]*list.Element
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobQueue:  make(chan Job, queueSize),
		log:       log.With("service", "dispatcher"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(minWorkers, maxWorkers, idleTimeout, d.execute)

	// Warm up workers.
	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking. A full queue yields ErrDispatcherBusy.
func (d *Dispatcher) Submit(job Job) error {
	if d.ctx.Err() != nil {
		return ErrDispatcherStopped
	}
	job.Type = Run
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop halts dispatching, cancels the context passed to running jobs and
// waits for them to return. Queued jobs are dropped.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.pool.close()
	<-d.done
	d.running.Wait()
	d.pool.shutdownIdle()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if !d.hasReady() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.ctx.Done():
				return
			}
		}
		workerChan := d.pool.acquire()
		if workerChan == nil {
			return
		}
		// pick up everything submitted while waiting for a worker
		d.drain()
		job, ok := d.next()
		if !ok {
			if !d.pool.Release(workerChan) {
				workerChan <- Job{Type: Stop}
			}
			continue
		}
		d.log.Debug("assign job", "job", job.Name, "user_id", job.UserID, "worker", d.pool.workerID(workerChan))
		d.running.Add(1)
		workerChan <- job
	}
}

func (d *Dispatcher) execute(job Job) {
	defer d.running.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job panicked", "job", job.Name, "user_id", job.UserID, "panic", r)
		}
	}()
	if job.Fn != nil {
		job.Fn(d.ctx)
	}
}

// CancelUser drops every queued job of userID. Running jobs are unaffected.
func (d *Dispatcher) CancelUser(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) hasReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready.Len() > 0
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.UserID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.UserID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.UserID] = d.ready.PushBack(job.UserID)
}

// next pops one job from the user at the front and moves that user to the back.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem := d.ready.Front()
	if elem == nil {
		return Job{}, false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	return job, true
}
