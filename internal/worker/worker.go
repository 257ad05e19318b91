// Package worker provides a small bounded-queue task pool used by the
// Registry's sweeper and by persistence flush jobs, so neither has to spin
// up ad hoc goroutines for background work.
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a background job run by a Pool worker.
type Task func(ctx context.Context) error

// Pool runs submitted Tasks on a fixed number of worker goroutines, behind
// a bounded queue. Submit never blocks: a full queue drops the task.
type Pool struct {
	taskQueue chan Task
	wg        sync.WaitGroup
	isClosing atomic.Bool
}

// NewPool starts size worker goroutines draining a queue of capacity 1000.
func NewPool(size int) *Pool {
	p := &Pool{
		taskQueue: make(chan Task, 1000),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.startWorker()
	}
	return p
}

func (p *Pool) startWorker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		if err := task(context.Background()); err != nil {
			log.Printf("worker: task failed: %v", err)
		}
	}
}

// Submit enqueues t, dropping it if the pool is shutting down or the queue
// is full.
func (p *Pool) Submit(t Task) {
	if p.isClosing.Load() {
		log.Println("worker: task submitted during shutdown, dropping")
		return
	}
	select {
	case p.taskQueue <- t:
	default:
		log.Println("worker: task queue full, dropping task")
	}
}

// Shutdown stops accepting new tasks and waits for in-flight ones to drain.
func (p *Pool) Shutdown() {
	p.isClosing.Store(true)
	close(p.taskQueue)
	p.wg.Wait()
}

// RunEvery submits fn to the pool every interval until ctx is canceled. The
// caller is expected to run this in its own goroutine; it blocks on the
// ticker, not on fn's completion.
func RunEvery(ctx context.Context, p *Pool, interval time.Duration, fn Task) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Submit(fn)
		}
	}
}
