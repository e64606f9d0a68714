package snapshot

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// finalSnapshotTimeout bounds the upload made while stopping.
const finalSnapshotTimeout = 10 * time.Second

// Destination stores one JSONL snapshot, replacing the previous one.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Scheduler periodically captures the backlog of a node and uploads it.
// One snapshot is taken on Start, one per interval and a last one on Stop,
// so the backlog a node held when it went down is always available.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

// Start launches the capture loop. It must be called at most once.
func (s *Scheduler) Start() {
	s.done = make(chan struct{})
	go s.loop()
}

// Stop ends the loop after a final snapshot. It is safe to call more than
// once and without Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.done != nil {
		<-s.done
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stop
		cancel()
	}()
	s.SnapshotOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SnapshotOnce(ctx)
		case <-s.stop:
			final, cancelFinal := context.WithTimeout(context.Background(), finalSnapshotTimeout)
			s.SnapshotOnce(final)
			cancelFinal()
			return
		}
	}
}

// SnapshotOnce captures the backlog and uploads it to every destination.
// A failing destination is logged and does not keep the others from
// receiving the snapshot.
func (s *Scheduler) SnapshotOnce(ctx context.Context) {
	var buf bytes.Buffer
	if err := ExportJSONL(s.source, &buf, time.Now()); err != nil {
		s.logger.Error("snapshot: export failed", "node", s.source.NodeID(), "err", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("snapshot: upload failed", "node", s.source.NodeID(), "destination", i, "err", err)
		}
	}
	s.logger.Debug("snapshot: backlog captured", "node", s.source.NodeID(), "destinations", len(s.destinations), "failed", failed, "bytes", len(data))
}
