package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/archive"
	"github.com/amaumene/nzbrelay/internal/controllers"
	"github.com/amaumene/nzbrelay/internal/services/targets"
)

// Scheduler manages the watch folder scan and periodic target checks
type Scheduler struct {
	cron        *cron.Cron
	pipeline    *controllers.Pipeline
	targets     []targets.Target
	incomingDir string
	logger      *logrus.Logger
}

// NewScheduler creates a new scheduler. An empty incomingDir disables the
// watch folder.
func NewScheduler(pipeline *controllers.Pipeline, adapters []targets.Target, incomingDir string, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		pipeline:    pipeline,
		targets:     adapters,
		incomingDir: incomingDir,
		logger:      logger,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler")

	if s.incomingDir != "" {
		for _, sub := range []string{"processed", "failed"} {
			if err := os.MkdirAll(filepath.Join(s.incomingDir, sub), 0755); err != nil {
				return fmt.Errorf("failed to create watch folder %s: %w", sub, err)
			}
		}

		// Every minute: pick up dropped NZB and archive files
		if _, err := s.cron.AddFunc("* * * * *", s.runWatchFolderScan); err != nil {
			return fmt.Errorf("failed to add watch folder job: %w", err)
		}
	}

	// Every hour: verify target connectivity
	if _, err := s.cron.AddFunc("0 * * * *", s.runTargetCheck); err != nil {
		return fmt.Errorf("failed to add target check job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.cron.Stop()
}

// runWatchFolderScan feeds every recognized file in the incoming directory
// into the pipeline and moves it to processed/ or failed/.
func (s *Scheduler) runWatchFolderScan() {
	entries, err := os.ReadDir(s.incomingDir)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read incoming directory")
		return
	}

	ctx := context.Background()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		lower := strings.ToLower(name)
		isNZB := strings.HasSuffix(lower, ".nzb")
		if !isNZB && !archive.Supported(name) {
			continue
		}

		path := filepath.Join(s.incomingDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.WithError(err).WithField("file", name).Error("Failed to read dropped file")
			continue
		}

		s.logger.WithField("file", name).Info("Picked up dropped file")

		source := "file://" + path
		if isNZB {
			_, err = s.pipeline.AddNZBFile(ctx, string(data), name, source, nil)
		} else {
			_, err = s.pipeline.ProcessArchive(ctx, data, name, source, nil, false)
		}

		dest := "processed"
		if err != nil {
			dest = "failed"
		}
		if moveErr := os.Rename(path, filepath.Join(s.incomingDir, dest, name)); moveErr != nil {
			s.logger.WithError(moveErr).WithField("file", name).Error("Failed to move dropped file")
		}
	}
}

// runTargetCheck verifies every configured target is reachable.
func (s *Scheduler) runTargetCheck() {
	ctx := context.Background()
	for _, target := range s.targets {
		if err := target.TestConnection(ctx); err != nil {
			s.logger.WithError(err).WithField("target", target.Name()).Warn("Target unreachable")
		} else {
			s.logger.WithField("target", target.Name()).Debug("Target reachable")
		}
	}
}
