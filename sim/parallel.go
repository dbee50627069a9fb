package sim

import (
	"sync"
)

// defaultThreshold is the minimum item count worth splitting across workers.
// Below this, single-threaded is faster due to goroutine overhead.
const defaultThreshold = 256

// workChunk is a range of items for a worker to process.
type workChunk struct {
	start, end int
	fn         func(start, end int)
	wg         *sync.WaitGroup
}

// WorkerPool is a set of persistent goroutines fed ranges over a channel.
// ParallelFor may be called from several goroutines at once; each call
// tracks its own chunks.
type WorkerPool struct {
	numWorkers int
	threshold  int

	workChan chan workChunk
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// NewWorkerPool creates a pool. Workers start on first use.
func NewWorkerPool(workers, threshold int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if threshold < 1 {
		threshold = defaultThreshold
	}
	return &WorkerPool{numWorkers: workers, threshold: threshold}
}

// Workers returns the number of worker goroutines.
func (p *WorkerPool) Workers() int { return p.numWorkers }

// start launches the worker goroutines.
func (p *WorkerPool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals all workers to exit and waits for them.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	p.running = false
}

// worker processes chunks until stopped.
func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case chunk := <-p.workChan:
			chunk.fn(chunk.start, chunk.end)
			chunk.wg.Done()
		}
	}
}

// ParallelFor runs fn over [0, n) in disjoint ranges and waits for all of them.
func (p *WorkerPool) ParallelFor(n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if n < p.threshold || p.numWorkers == 1 {
		fn(0, n)
		return
	}

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		p.start()
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	var wg sync.WaitGroup
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		p.workChan <- workChunk{start: start, end: end, fn: fn, wg: &wg}
	}
	wg.Wait()
}
