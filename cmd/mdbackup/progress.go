package main

import (
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"mdbackup/internal/pipeline"
)

// progressSink renders the core's throttled ProgressEvents onto one
// terminal progress bar. The core never knows a terminal exists; it just
// calls OnProgress at the cadence the CPU profile picked.
type progressSink struct {
	mu    sync.Mutex
	label string
	bar   *progressbar.ProgressBar
}

// newProgressSink builds a byte-based bar; total < 0 renders a spinner for
// stages whose total is unknown up front (scanning).
func newProgressSink(label string, total int64) *progressSink {
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
	)
	return &progressSink{label: label, bar: bar}
}

func (s *progressSink) OnProgress(ev pipeline.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.TotalBytes > 0 && s.bar.GetMax64() != ev.TotalBytes {
		s.bar.ChangeMax64(ev.TotalBytes)
	}

	desc := s.label
	if ev.Paused {
		desc += " (paused)"
	} else if ev.CurrentPath != "" {
		desc = s.label + ": " + ev.CurrentPath
	}
	s.bar.Describe(desc)
	s.bar.Set64(ev.DoneBytes)
}

func (s *progressSink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bar.Finish()
}
