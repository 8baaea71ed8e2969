package sim

import (
	"runtime"
	"sync"

	"github.com/pthm-cable/mps/systems"
)

// defaultParallelThreshold is the minimum particle count to use the worker
// pool. Below this, single-threaded is faster due to goroutine overhead.
const defaultParallelThreshold = 64

// pass selects the per-particle work a chunk runs.
type pass uint8

const (
	passNeighbors pass = iota
	passClassify
)

// workerScratch holds per-worker reusable buffers.
type workerScratch struct {
	Neighbors  []systems.Neighbor
	Candidates []int32
	Err        error
}

// workChunk represents a range of particle ids for a worker to process.
type workChunk struct {
	start, end int
	pass       pass
}

// parallelState holds the persistent worker pool.
type parallelState struct {
	scratches  []workerScratch
	numWorkers int
	threshold  int

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newParallelState(workers, threshold int) *parallelState {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if threshold <= 0 {
		threshold = defaultParallelThreshold
	}
	scratches := make([]workerScratch, workers)
	for i := range scratches {
		scratches[i].Neighbors = make([]systems.Neighbor, 0, 64)
		scratches[i].Candidates = make([]int32, 0, 256)
	}
	return &parallelState{
		numWorkers: workers,
		threshold:  threshold,
		scratches:  scratches,
	}
}

// startWorkers launches persistent worker goroutines.
func (p *parallelState) startWorkers(e *Engine) {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(e, i)
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *parallelState) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *parallelState) worker(e *Engine, workerID int) {
	defer p.wg.Done()
	scratch := &p.scratches[workerID]

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			e.computeChunk(chunk, scratch)
			p.doneChan <- struct{}{}
		}
	}
}

// run processes ids [0, n) with the given pass and returns the first error
// any chunk reported. Small inputs run inline on the first scratch.
func (p *parallelState) run(e *Engine, n int, ps pass) error {
	for i := range p.scratches {
		p.scratches[i].Err = nil
	}

	if n < p.threshold || p.numWorkers == 1 {
		e.computeChunk(workChunk{start: 0, end: n, pass: ps}, &p.scratches[0])
		return p.scratches[0].Err
	}

	if !p.running {
		p.startWorkers(e)
	}

	chunkSize := (n + p.numWorkers - 1) / p.numWorkers

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		p.workChan <- workChunk{start: start, end: end, pass: ps}
		chunksDispatched++
	}

	// Barrier
	for i := 0; i < chunksDispatched; i++ {
		<-p.doneChan
	}

	for i := range p.scratches {
		if err := p.scratches[i].Err; err != nil {
			return err
		}
	}
	return nil
}
