package pipeline

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stage tags a progress event to one of the pipeline stages.
type Stage string

const (
	StageScan   Stage = "Scan"
	StageHash   Stage = "Hash"
	StagePlan   Stage = "Plan"
	StageCopy   Stage = "Copy"
	StageVerify Stage = "Verification"
)

// ProgressEvent is the throttled envelope the UI layer consumes.
type ProgressEvent struct {
	Stage          Stage
	TotalFiles     int64
	DoneFiles      int64
	TotalBytes     int64
	DoneBytes      int64
	CurrentPath    string
	ErrorCount     int64
	BytesPerSecond float64
	ETA            time.Duration
	Paused         bool
}

// ProgressSink is the abstract interface the pipeline emits progress
// through; implementations belong to the UI layer.
type ProgressSink interface {
	OnProgress(ProgressEvent)
}

// NoopProgressSink discards every event; useful for headless/batch runs and tests.
type NoopProgressSink struct{}

func (NoopProgressSink) OnProgress(ProgressEvent) {}

// Counters are the shared atomic accumulators a stage updates from any
// worker goroutine; a single dispatcher goroutine reads them on a timer
// and coalesces them into one ProgressEvent per tick, so a million fast
// files never mean a million UI updates.
type Counters struct {
	totalFiles  int64
	doneFiles   int64
	totalBytes  int64
	doneBytes   int64
	errorCount  int64
	currentPath atomic.Value // string
}

func NewCounters(totalFiles, totalBytes int64) *Counters {
	c := &Counters{totalFiles: totalFiles, totalBytes: totalBytes}
	c.currentPath.Store("")
	return c
}

func (c *Counters) AddDoneFile(bytes int64)  { atomic.AddInt64(&c.doneFiles, 1); atomic.AddInt64(&c.doneBytes, bytes) }
func (c *Counters) AddDoneBytes(bytes int64) { atomic.AddInt64(&c.doneBytes, bytes) }
func (c *Counters) AddError()                { atomic.AddInt64(&c.errorCount, 1) }
func (c *Counters) SetCurrentPath(p string)  { c.currentPath.Store(p) }

func (c *Counters) snapshot() (total, done, totalB, doneB, errs int64, path string) {
	return atomic.LoadInt64(&c.totalFiles),
		atomic.LoadInt64(&c.doneFiles),
		atomic.LoadInt64(&c.totalBytes),
		atomic.LoadInt64(&c.doneBytes),
		atomic.LoadInt64(&c.errorCount),
		c.currentPath.Load().(string)
}

// Dispatcher coalesces Counters into ProgressEvents at a fixed cadence and
// forwards them to a ProgressSink, per the CPU-profile UI-update-cadence
// table the CPU profile resolves to.
type Dispatcher struct {
	sink     ProgressSink
	stage    Stage
	counters *Counters
	cadence  time.Duration
	pauseGate *PauseGate

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	startTime time.Time
	lastBytes int64
	lastTick  time.Time
}

// NewDispatcher starts a background goroutine ticking at 1000/cadenceHz ms.
func NewDispatcher(sink ProgressSink, stage Stage, counters *Counters, cadenceHz float64, gate *PauseGate) *Dispatcher {
	if sink == nil {
		sink = NoopProgressSink{}
	}
	if cadenceHz <= 0 {
		cadenceHz = 1
	}
	d := &Dispatcher{
		sink:      sink,
		stage:     stage,
		counters:  counters,
		cadence:   time.Duration(float64(time.Second) / cadenceHz),
		pauseGate: gate,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		startTime: time.Now(),
		lastTick:  time.Now(),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	ticker := time.NewTicker(d.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.emit()
		case <-d.stopCh:
			d.emit()
			return
		}
	}
}

func (d *Dispatcher) emit() {
	total, done, totalB, doneB, errs, path := d.counters.snapshot()
	now := time.Now()
	elapsed := now.Sub(d.lastTick).Seconds()
	bps := 0.0
	if elapsed > 0 {
		bps = float64(doneB-d.lastBytes) / elapsed
	}
	d.lastBytes = doneB
	d.lastTick = now

	var eta time.Duration
	if bps > 0 && totalB > doneB {
		eta = time.Duration(float64(totalB-doneB)/bps) * time.Second
	}

	paused := false
	if d.pauseGate != nil {
		paused = d.pauseGate.IsPaused()
	}

	d.sink.OnProgress(ProgressEvent{
		Stage:          d.stage,
		TotalFiles:     total,
		DoneFiles:      done,
		TotalBytes:     totalB,
		DoneBytes:      doneB,
		CurrentPath:    path,
		ErrorCount:     errs,
		BytesPerSecond: bps,
		ETA:            eta,
		Paused:         paused,
	})
}

// Stop halts the dispatcher, flushing one final event.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}
