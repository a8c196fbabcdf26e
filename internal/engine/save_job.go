// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
)

// saver is what the save job flushes.
type saver interface {
	SaveChanges(ctx context.Context) error
}

// saveJob calls SaveChanges on a ticker so a crash loses at most one
// interval of changes.
type saveJob struct {
	target saver
	logger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSaveJob(target saver, log *logger.Logger) *saveJob {
	return &saveJob{target: target, logger: log}
}

// Start stops any previously running job, then flushes every interval
// until ctx is cancelled or Stop is called. A non-positive interval falls
// back to config.DefaultSaveInterval.
func (j *saveJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = config.DefaultSaveInterval
	}

	j.Stop()

	j.mu.Lock()
	jobCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.wg.Add(1)
	j.mu.Unlock()

	go func() {
		defer j.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-jobCtx.Done():
				return
			case <-t.C:
				if err := j.target.SaveChanges(jobCtx); err != nil {
					j.logger.Err(err).Str("func", "saveJob.Start").Msg("periodic save failed")
				}
			}
		}
	}()
}

// Stop cancels the job and waits for it to exit. It is a no-op when the
// job is not running.
func (j *saveJob) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	j.wg.Wait()
}
