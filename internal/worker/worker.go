package worker

// Worker runs jobs handed to it on its private channel.
type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.pool.exec(job)
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}
