package util

import (
	"sync"

	"github.com/journeyhq/journey/logger"
	"go.uber.org/zap"
)

type Job func()

// Worker is a single goroutine draining a buffered job channel. Jobs sent to
// the same worker run strictly in order.
type Worker struct {
	name    string
	stop    chan struct{}
	wg      *sync.WaitGroup
	jobChan chan Job
}

func NewWorker(name string, wg *sync.WaitGroup, capacity int) *Worker {
	return &Worker{
		jobChan: make(chan Job, capacity),
		name:    name,
		wg:      wg,
		stop:    make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case job := <-w.jobChan:
				job()
			case <-w.stop:
				// drain what was already queued before stopping
				for {
					select {
					case job := <-w.jobChan:
						job()
					default:
						logger.Info("stopping worker", zap.String("worker", w.name))
						return
					}
				}
			}
		}
	}()
}

func (w *Worker) Sender() chan<- Job {
	return w.jobChan
}

func (w *Worker) Stop() {
	w.stop <- struct{}{}
}
