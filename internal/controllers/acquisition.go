package controllers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/archive"
	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/models"
	"github.com/amaumene/nzbrelay/internal/nzb"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
	"github.com/amaumene/nzbrelay/internal/services/search"
	"github.com/amaumene/nzbrelay/internal/services/targets"
)

// Pipeline is the acquisition state machine: it resolves incoming signals
// (nzblnk links, raw NZB files, archives) into validated NZB documents and
// dispatches each to the configured targets, tracking per-target outcomes
// independently.
type Pipeline struct {
	searchCfg  config.SearchSettings
	processing config.ProcessingSettings
	targetCfgs []config.TargetConfig

	engines   []search.Engine
	targets   []targets.Target
	extractor *archive.Extractor
	resolver  *CategoryResolver
	dialogs   DialogOpener

	db       ActivityLog
	notifier Notifier
	logger   *logrus.Logger
}

// ActivityLog persists item state transitions. Log failures are never fatal
// to the pipeline.
type ActivityLog interface {
	LogItem(item *models.Item) error
}

// Notifier surfaces terminal outcomes to the user.
type Notifier interface {
	Info(message string)
	Success(message string)
	Warn(message string)
	Error(message string)
}

// NewPipeline creates the acquisition pipeline. The targets slice must be
// parallel to cfg.Targets.
func NewPipeline(
	cfg *config.Config,
	engines []search.Engine,
	targetAdapters []targets.Target,
	extractor *archive.Extractor,
	resolver *CategoryResolver,
	dialogs DialogOpener,
	db ActivityLog,
	notifier Notifier,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		searchCfg:  cfg.Search,
		processing: cfg.Processing,
		targetCfgs: cfg.Targets,
		engines:    engines,
		targets:    targetAdapters,
		extractor:  extractor,
		resolver:   resolver,
		dialogs:    dialogs,
		db:         db,
		notifier:   notifier,
		logger:     logger,
	}
}

// ProcessNzblnk resolves an nzblnk link into an NZB document via the search
// engines and dispatches it. targetNames optionally restricts dispatch to
// the named targets; empty means all active targets.
func (p *Pipeline) ProcessNzblnk(ctx context.Context, rawLink, source string, targetNames []string) (*models.Item, error) {
	item := models.NewItem(source)

	link, err := nzblnk.Parse(rawLink)
	if err != nil {
		p.fail(item, err)
		return item, err
	}
	item.Header = link.Header
	item.Title = link.Title
	item.Password = link.Password
	p.bind(item, targetNames)
	p.logState(item)

	p.logger.WithFields(logrus.Fields{
		"item_id": item.ID,
		"header":  item.Header,
		"title":   item.Title,
	}).Info("Processing nzblnk")

	if err := p.runSearch(ctx, item); err != nil {
		p.fail(item, err)
		return item, err
	}

	item.Status = models.ItemFetched
	p.logState(item)

	return item, p.process(ctx, item, newBatchState())
}

// AddNZBFile takes a raw NZB payload (paste, upload, interception) and
// dispatches it. Title and password come from the document's meta entries,
// falling back to the title{{password}}.nzb filename convention.
func (p *Pipeline) AddNZBFile(ctx context.Context, text, filename, source string, targetNames []string) (*models.Item, error) {
	item, err := p.buildFileItem(text, filename, source, targetNames)
	if err != nil {
		return item, err
	}
	return item, p.process(ctx, item, newBatchState())
}

// buildFileItem creates a fetched item from a raw NZB payload without
// dispatching it. The search phase is skipped since the payload is known.
func (p *Pipeline) buildFileItem(text, filename, source string, targetNames []string) (*models.Item, error) {
	item := models.NewItem(source)
	item.Filename = filename
	p.bind(item, targetNames)

	doc, err := nzb.ParseString(text)
	if err != nil {
		p.fail(item, err)
		return item, err
	}
	item.Document = doc

	item.Title = doc.MetaValue(nzb.MetaTitle)
	item.Password = doc.MetaValue(nzb.MetaPassword)
	if item.Title == "" || item.Password == "" {
		title, password := nzblnk.SplitFilename(filename)
		if item.Title == "" {
			item.Title = title
		}
		if item.Password == "" {
			item.Password = password
		}
	}

	item.Status = models.ItemFetched
	p.logState(item)

	p.logger.WithFields(logrus.Fields{
		"item_id": item.ID,
		"title":   item.Title,
		"files":   len(doc.Files),
	}).Info("NZB file added")

	return item, nil
}

// bind creates one binding per configured target. An explicit targetNames
// override activates exactly the named targets, otherwise the configured
// active flags apply.
func (p *Pipeline) bind(item *models.Item, targetNames []string) {
	for _, cfg := range p.targetCfgs {
		active := cfg.Active
		if len(targetNames) > 0 {
			active = false
			for _, name := range targetNames {
				if name == cfg.Name {
					active = true
					break
				}
			}
		}
		item.Bindings = append(item.Bindings, &models.Binding{
			TargetName: cfg.Name,
			Active:     active,
			Status:     models.BindingInactive,
		})
	}
}

// runSearch resolves the item's header into an NZB document using the
// configured engines and strategy. Individual engine failures and incomplete
// results are logged and recovered; only exhaustion of all engines fails.
func (p *Pipeline) runSearch(ctx context.Context, item *models.Item) error {
	if len(p.engines) == 0 {
		return models.ErrNoActiveEngines
	}

	item.Status = models.ItemSearching
	p.logState(item)

	if p.searchCfg.Strategy == config.StrategyParallel {
		return p.searchParallel(ctx, item)
	}
	return p.searchSequential(ctx, item)
}

func (p *Pipeline) searchSequential(ctx context.Context, item *models.Item) error {
	for _, engine := range p.engines {
		doc, err := engine.GetNZB(ctx, item.Header)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"item_id": item.ID,
				"engine":  engine.Name(),
			}).Warn("Search engine failed, trying next")
			continue
		}
		if verdict := p.checkCompleteness(doc); !verdict.Complete {
			p.logger.WithFields(logrus.Fields{
				"item_id": item.ID,
				"engine":  engine.Name(),
				"reason":  verdict.Reason,
			}).Warn("Search result incomplete, trying next")
			continue
		}
		item.Document = doc
		item.SearchEngine = engine.Name()
		return nil
	}
	return models.ErrNoSearchResults
}

// searchParallel races all engines; the first result that parses and passes
// the completeness check wins. Results arriving after the winner, and the
// errors of losing engines, are discarded without surfacing.
func (p *Pipeline) searchParallel(ctx context.Context, item *models.Item) error {
	type attempt struct {
		engine string
		doc    *nzb.Document
		err    error
	}

	// Buffered so losers can finish after the race is decided.
	results := make(chan attempt, len(p.engines))
	for _, engine := range p.engines {
		go func(engine search.Engine) {
			doc, err := engine.GetNZB(ctx, item.Header)
			results <- attempt{engine: engine.Name(), doc: doc, err: err}
		}(engine)
	}

	for range p.engines {
		var result attempt
		select {
		case result = <-results:
		case <-ctx.Done():
			return ctx.Err()
		}
		if result.err != nil {
			p.logger.WithError(result.err).WithFields(logrus.Fields{
				"item_id": item.ID,
				"engine":  result.engine,
			}).Warn("Search engine failed")
			continue
		}
		if verdict := p.checkCompleteness(result.doc); !verdict.Complete {
			p.logger.WithFields(logrus.Fields{
				"item_id": item.ID,
				"engine":  result.engine,
				"reason":  verdict.Reason,
			}).Warn("Search result incomplete, excluded from race")
			continue
		}
		item.Document = result.doc
		item.SearchEngine = result.engine
		return nil
	}
	return models.ErrNoSearchResults
}

func (p *Pipeline) checkCompleteness(doc *nzb.Document) nzb.Completeness {
	return nzb.CheckCompleteness(doc, nzb.Thresholds{
		FileCheck:               p.searchCfg.FileCheck.Enabled,
		FileThreshold:           p.searchCfg.FileCheck.Threshold,
		SegmentCheck:            p.searchCfg.SegmentCheck.Enabled,
		SegmentThresholdPercent: p.searchCfg.SegmentCheck.ThresholdPercent,
	})
}

// process applies post-fetch processing and dispatches the item. A
// deselected item skips dispatch entirely and terminates as warn.
func (p *Pipeline) process(ctx context.Context, item *models.Item, batch *batchState) error {
	if !item.Selected {
		for _, b := range item.Bindings {
			b.Active = false
			b.Status = models.BindingInactive
		}
		item.Status = models.ItemWarn
		item.ErrorMessage = "skipped: deselected by user"
		p.logState(item)
		p.notifier.Warn(fmt.Sprintf("Skipped %q (deselected)", item.Title))
		return nil
	}

	p.applyProcessing(item)
	return p.sendToTargets(ctx, item, batch)
}

// applyProcessing reformats the title, injects meta entries and drops files
// matching the configured removal substrings.
func (p *Pipeline) applyProcessing(item *models.Item) {
	switch p.processing.TitleStyle {
	case config.TitleDots:
		item.Title = strings.ReplaceAll(item.Title, " ", ".")
	case config.TitleSpaces:
		item.Title = strings.ReplaceAll(item.Title, ".", " ")
	}

	doc := item.Document
	if p.processing.AddMeta {
		if item.Title != "" {
			doc.SetMeta(nzb.MetaTitle, item.Title)
		}
		if item.Password != "" {
			doc.SetMeta(nzb.MetaPassword, item.Password)
		}
	}

	if len(p.processing.RemoveSubjects) > 0 {
		kept := doc.Files[:0]
		for _, file := range doc.Files {
			if needle := matchSubject(file.Subject, p.processing.RemoveSubjects); needle != "" {
				doc.AddComment(fmt.Sprintf("file removed (matched %q): %s", needle, file.Subject))
				p.logger.WithFields(logrus.Fields{
					"item_id": item.ID,
					"subject": file.Subject,
				}).Debug("Removed file from NZB")
				continue
			}
			kept = append(kept, file)
		}
		doc.Files = kept
	}
}

func matchSubject(subject string, needles []string) string {
	lower := strings.ToLower(subject)
	for _, needle := range needles {
		if needle != "" && strings.Contains(lower, strings.ToLower(needle)) {
			return needle
		}
	}
	return ""
}

// sendToTargets pushes the item to every active binding concurrently and
// joins on all of them regardless of outcome: one target's failure never
// blocks or masks another's success. Zero successes is an error, a mix is
// warn, all successes is success.
func (p *Pipeline) sendToTargets(ctx context.Context, item *models.Item, batch *batchState) error {
	active := item.ActiveBindings()
	if len(active) == 0 {
		err := models.ErrNoActiveTargets
		p.fail(item, err)
		return err
	}

	content, err := item.Document.Serialize(true, "  ")
	if err != nil {
		p.fail(item, err)
		return err
	}

	var wg sync.WaitGroup
	for i, binding := range item.Bindings {
		if !binding.Active {
			continue
		}
		binding.Status = models.BindingPending
		wg.Add(1)
		go func(index int, binding *models.Binding) {
			defer wg.Done()
			p.pushOne(ctx, item, index, binding, content, batch)
		}(i, binding)
	}
	wg.Wait()

	succeeded, failed := 0, 0
	firstError := ""
	for _, binding := range active {
		switch binding.Status {
		case models.BindingSuccess:
			succeeded++
		default:
			failed++
			if firstError == "" {
				firstError = binding.ErrorMessage
			}
		}
	}

	switch {
	case succeeded == 0:
		item.Status = models.ItemError
		item.ErrorMessage = firstError
		p.logState(item)
		p.notifier.Error(fmt.Sprintf("Failed to send %q to any target: %s", item.Title, firstError))
		return fmt.Errorf("%w: %s", models.ErrPushFailed, firstError)
	case failed > 0:
		item.Status = models.ItemWarn
		item.ErrorMessage = firstError
		p.logState(item)
		p.notifier.Warn(fmt.Sprintf("Sent %q to %d of %d targets (failed: %s)",
			item.Title, succeeded, len(active), strings.Join(failedNames(active), ", ")))
		return nil
	default:
		item.Status = models.ItemSuccess
		p.logState(item)
		p.notifier.Success(fmt.Sprintf("Sent %q to %d target(s)", item.Title, succeeded))
		return nil
	}
}

// pushOne resolves the binding's category (memoized per target across the
// batch) and pushes to its target, recording the outcome on the binding only.
func (p *Pipeline) pushOne(ctx context.Context, item *models.Item, index int, binding *models.Binding, content string, batch *batchState) {
	category, err := batch.category(ctx, index, func(ctx context.Context) (string, error) {
		return p.resolver.Resolve(ctx, p.targetCfgs[index].Categories, item.Title)
	})
	if err != nil {
		binding.Status = models.BindingError
		binding.ErrorMessage = err.Error()
		p.logger.WithError(err).WithFields(logrus.Fields{
			"item_id": item.ID,
			"target":  binding.TargetName,
		}).Warn("Category resolution failed")
		return
	}
	binding.Category = &category

	err = p.targets[index].Push(ctx, &targets.Upload{
		Title:    item.Title,
		Filename: item.Filename,
		Password: item.Password,
		Category: category,
		Content:  content,
	})
	if err != nil {
		binding.Status = models.BindingError
		binding.ErrorMessage = err.Error()
		p.logger.WithError(err).WithFields(logrus.Fields{
			"item_id": item.ID,
			"target":  binding.TargetName,
		}).Warn("Push to target failed")
		return
	}

	binding.Status = models.BindingSuccess
	p.logger.WithFields(logrus.Fields{
		"item_id": item.ID,
		"target":  binding.TargetName,
	}).Info("Pushed to target")
}

func failedNames(bindings []*models.Binding) []string {
	var names []string
	for _, b := range bindings {
		if b.Status == models.BindingError {
			names = append(names, b.TargetName)
		}
	}
	return names
}

// fail moves the item to its terminal error state with exactly one log
// write and one notification.
func (p *Pipeline) fail(item *models.Item, err error) {
	item.Status = models.ItemError
	item.ErrorMessage = err.Error()
	p.logState(item)

	label := item.Title
	if label == "" {
		label = item.Header
	}
	if label == "" {
		label = item.Filename
	}
	p.notifier.Error(fmt.Sprintf("Acquisition of %q failed: %v", label, err))
}

// logState persists the current item state. At-least-once logging: failures
// are reported but never stop the pipeline.
func (p *Pipeline) logState(item *models.Item) {
	if err := p.db.LogItem(item); err != nil {
		p.logger.WithError(err).WithField("item_id", item.ID).Warn("Failed to write activity log")
	}
}
