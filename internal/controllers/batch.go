package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/amaumene/nzbrelay/internal/dialog"
	"github.com/amaumene/nzbrelay/internal/models"
)

// batchState memoizes category decisions per target index across one batch,
// so an archive with many NZB files prompts the user at most once per
// target. Concurrent requests for the same target share one in-flight
// resolution via singleflight.
type batchState struct {
	group      singleflight.Group
	mu         sync.Mutex
	categories map[int]string
}

func newBatchState() *batchState {
	return &batchState{categories: make(map[int]string)}
}

func (s *batchState) category(ctx context.Context, index int, resolve func(ctx context.Context) (string, error)) (string, error) {
	s.mu.Lock()
	if category, ok := s.categories[index]; ok {
		s.mu.Unlock()
		return category, nil
	}
	s.mu.Unlock()

	result, err, _ := s.group.Do(strconv.Itoa(index), func() (interface{}, error) {
		s.mu.Lock()
		if category, ok := s.categories[index]; ok {
			s.mu.Unlock()
			return category, nil
		}
		s.mu.Unlock()

		category, err := resolve(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.categories[index] = category
		s.mu.Unlock()
		return category, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ProcessArchive extracts the NZB files embedded in an archive payload and
// dispatches each as its own item. All items share one batch, so category
// decisions are made once per target, and the batch-level notification
// distinguishes all/some/none succeeded. forceReview opens the review dialog
// even when it is disabled in the configuration, for sources whose
// interception rule demands confirmation.
func (p *Pipeline) ProcessArchive(ctx context.Context, data []byte, filename, source string, targetNames []string, forceReview bool) ([]*models.Item, error) {
	entries, err := p.extractor.Extract(data, filename)
	if err != nil {
		p.notifier.Error(fmt.Sprintf("Failed to extract archive %q: %v", filename, err))
		return nil, err
	}

	var items []*models.Item
	for _, entry := range entries {
		if !strings.HasSuffix(strings.ToLower(entry.Name), ".nzb") {
			continue
		}
		// A parse failure terminates that item only; it still counts
		// against the batch outcome.
		item, _ := p.buildFileItem(string(entry.Data), entry.Name, source, targetNames)
		items = append(items, item)
	}

	if len(items) == 0 {
		err := fmt.Errorf("no NZB files found in archive %q", filename)
		p.notifier.Error(err.Error())
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"archive": filename,
		"count":   len(items),
	}).Info("Processing archive batch")

	if p.processing.ReviewDialog || forceReview {
		if err := p.reviewBatch(ctx, items); err != nil {
			for _, item := range items {
				if !item.Status.Terminal() {
					p.fail(item, err)
				}
			}
			return items, err
		}
	}

	batch := newBatchState()
	var wg sync.WaitGroup
	for _, item := range items {
		if item.Status.Terminal() {
			continue
		}
		wg.Add(1)
		go func(item *models.Item) {
			defer wg.Done()
			if err := p.process(ctx, item, batch); err != nil {
				p.logger.WithError(err).WithField("item_id", item.ID).Debug("Batch item failed")
			}
		}(item)
	}
	wg.Wait()

	failed := 0
	for _, item := range items {
		if item.Status == models.ItemError {
			failed++
		}
	}

	switch {
	case failed == 0:
		p.notifier.Success(fmt.Sprintf("Archive %q: all %d NZB files dispatched", filename, len(items)))
	case failed == len(items):
		p.notifier.Error(fmt.Sprintf("Archive %q: all %d NZB files failed", filename, len(items)))
	default:
		p.notifier.Warn(fmt.Sprintf("Archive %q: %d of %d NZB files failed", filename, failed, len(items)))
	}
	return items, nil
}

// reviewBatch opens the review dialog and applies the user's selection. A
// cancellation fails the whole batch.
func (p *Pipeline) reviewBatch(ctx context.Context, items []*models.Item) error {
	type reviewEntry struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Filename string `json:"filename"`
	}
	payload := make([]reviewEntry, 0, len(items))
	for _, item := range items {
		if item.Status.Terminal() {
			continue
		}
		payload = append(payload, reviewEntry{ID: item.ID, Title: item.Title, Filename: item.Filename})
	}

	decision, err := p.dialogs.Open(ctx, dialog.KindReview, map[string]interface{}{"items": payload})
	if err != nil {
		return fmt.Errorf("batch review: %w", err)
	}

	var answer struct {
		Selected []string `json:"selected"`
	}
	if err := json.Unmarshal(decision, &answer); err != nil {
		return fmt.Errorf("batch review: invalid decision: %w", err)
	}

	selected := make(map[string]bool, len(answer.Selected))
	for _, id := range answer.Selected {
		selected[id] = true
	}
	for _, item := range items {
		if !item.Status.Terminal() {
			item.Selected = selected[item.ID]
		}
	}
	return nil
}
