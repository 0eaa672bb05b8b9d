package controllers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/nzbrelay/internal/archive"
	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/dialog"
	"github.com/amaumene/nzbrelay/internal/models"
	"github.com/amaumene/nzbrelay/internal/nzb"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
	"github.com/amaumene/nzbrelay/internal/services/search"
	"github.com/amaumene/nzbrelay/internal/services/targets"
	"github.com/amaumene/nzbrelay/internal/utils"
)

func completeDoc() *nzb.Document {
	return &nzb.Document{Files: []nzb.File{{
		Subject:  `test [1/1] - "a.rar" (1/1)`,
		Segments: []nzb.Segment{{Number: 1, Bytes: 100, ID: "seg@news"}},
	}}}
}

func incompleteDoc() *nzb.Document {
	return &nzb.Document{Files: []nzb.File{{Subject: "empty"}}}
}

// fakeEngine returns a canned document or error, optionally after a delay.
type fakeEngine struct {
	name  string
	doc   *nzb.Document
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (e *fakeEngine) Name() string { return e.name }

func (e *fakeEngine) GetNZB(ctx context.Context, _ string) (*nzb.Document, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.doc, nil
}

// fakeTarget records pushes and fails on demand.
type fakeTarget struct {
	name string
	err  error

	mu     sync.Mutex
	pushes []*targets.Upload
}

func (t *fakeTarget) Name() string { return t.name }

func (t *fakeTarget) Push(_ context.Context, up *targets.Upload) error {
	t.mu.Lock()
	t.pushes = append(t.pushes, up)
	t.mu.Unlock()
	return t.err
}

func (t *fakeTarget) TestConnection(context.Context) error { return nil }

func (t *fakeTarget) pushCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pushes)
}

// memLog collects logged item snapshots.
type memLog struct {
	mu    sync.Mutex
	items []*models.Item
}

func (l *memLog) LogItem(item *models.Item) error {
	l.mu.Lock()
	l.items = append(l.items, item)
	l.mu.Unlock()
	return nil
}

// memNotifier counts notifications per level.
type memNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newMemNotifier() *memNotifier {
	return &memNotifier{messages: make(map[string][]string)}
}

func (n *memNotifier) record(level, message string) {
	n.mu.Lock()
	n.messages[level] = append(n.messages[level], message)
	n.mu.Unlock()
}

func (n *memNotifier) Info(m string)    { n.record("info", m) }
func (n *memNotifier) Success(m string) { n.record("success", m) }
func (n *memNotifier) Warn(m string)    { n.record("warn", m) }
func (n *memNotifier) Error(m string)   { n.record("error", m) }

func (n *memNotifier) count(level string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages[level])
}

type pipelineFixture struct {
	pipeline *Pipeline
	targets  []*fakeTarget
	dialogs  *countingDialogs
	notifier *memNotifier
	log      *memLog
}

// countingDialogs is safe for concurrent use, unlike fakeDialogs. When
// answerFn is set it builds the answer from the request payload.
type countingDialogs struct {
	opened   atomic.Int32
	answer   json.RawMessage
	answerFn func(payload interface{}) json.RawMessage
	err      error
}

func (d *countingDialogs) Open(_ context.Context, _ dialog.Kind, payload interface{}) (json.RawMessage, error) {
	d.opened.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	if d.answerFn != nil {
		return d.answerFn(payload), nil
	}
	return d.answer, nil
}

func newFixture(cfg *config.Config, engines []search.Engine, fakes []*fakeTarget) *pipelineFixture {
	logger := utils.NewTestLogger()
	dialogs := &countingDialogs{answer: json.RawMessage(`{"category":"picked"}`)}
	notifier := newMemNotifier()
	log := &memLog{}

	adapters := make([]targets.Target, len(fakes))
	for i, f := range fakes {
		adapters[i] = f
	}

	pipeline := NewPipeline(cfg, engines,
		adapters,
		archive.NewExtractor(logger),
		NewCategoryResolver(dialogs, logger),
		dialogs, log, notifier, logger)

	return &pipelineFixture{pipeline: pipeline, targets: fakes, dialogs: dialogs, notifier: notifier, log: log}
}

func baseConfig(targetCfgs ...config.TargetConfig) *config.Config {
	return &config.Config{
		Search: config.SearchSettings{
			Strategy:     config.StrategySequential,
			FileCheck:    config.FileCheck{Enabled: true},
			SegmentCheck: config.SegmentCheck{Enabled: true},
		},
		Processing: config.ProcessingSettings{TitleStyle: config.TitleKeep, AddMeta: true},
		Targets:    targetCfgs,
	}
}

func TestProcessNzblnkSequentialFallback(t *testing.T) {
	engines := []search.Engine{
		&fakeEngine{name: "e1", err: errors.New("down")},
		&fakeEngine{name: "e2", doc: incompleteDoc()},
		&fakeEngine{name: "e3", doc: completeDoc()},
	}
	fix := newFixture(baseConfig(config.TargetConfig{Name: "a", Active: true}), engines,
		[]*fakeTarget{{name: "a"}})

	item, err := fix.pipeline.ProcessNzblnk(context.Background(), "nzblnk:?h=abc123&t=My.Show&p=pw", "test", nil)
	if err != nil {
		t.Fatalf("ProcessNzblnk failed: %v", err)
	}
	if item.SearchEngine != "e3" {
		t.Errorf("search engine = %q, want e3", item.SearchEngine)
	}
	if item.Status != models.ItemSuccess {
		t.Errorf("status = %q, want success", item.Status)
	}
	if fix.targets[0].pushCount() != 1 {
		t.Errorf("pushes = %d, want 1", fix.targets[0].pushCount())
	}

	up := fix.targets[0].pushes[0]
	if up.Title != "My.Show" || up.Password != "pw" {
		t.Errorf("upload = %+v", up)
	}
	if fix.notifier.count("success") != 1 {
		t.Errorf("success notifications = %d, want 1", fix.notifier.count("success"))
	}
}

func TestProcessNzblnkAllEnginesFail(t *testing.T) {
	engines := []search.Engine{
		&fakeEngine{name: "e1", err: errors.New("down")},
		&fakeEngine{name: "e2", doc: incompleteDoc()},
	}
	fix := newFixture(baseConfig(config.TargetConfig{Name: "a", Active: true}), engines,
		[]*fakeTarget{{name: "a"}})

	item, err := fix.pipeline.ProcessNzblnk(context.Background(), "nzblnk:?h=abc123", "test", nil)
	if !errors.Is(err, models.ErrNoSearchResults) {
		t.Fatalf("error = %v, want ErrNoSearchResults", err)
	}
	if item.Status != models.ItemError {
		t.Errorf("status = %q, want error", item.Status)
	}
	if fix.targets[0].pushCount() != 0 {
		t.Error("failed search must not dispatch")
	}
	if fix.notifier.count("error") != 1 {
		t.Errorf("error notifications = %d, want 1", fix.notifier.count("error"))
	}
}

func TestProcessNzblnkInvalidLink(t *testing.T) {
	fix := newFixture(baseConfig(config.TargetConfig{Name: "a", Active: true}), nil, []*fakeTarget{{name: "a"}})

	item, err := fix.pipeline.ProcessNzblnk(context.Background(), "http://not-a-link", "test", nil)
	if !errors.Is(err, nzblnk.ErrInvalidLink) {
		t.Fatalf("error = %v, want ErrInvalidLink", err)
	}
	if item.Status != models.ItemError {
		t.Errorf("status = %q, want error", item.Status)
	}
}

func TestProcessNzblnkNoEngines(t *testing.T) {
	fix := newFixture(baseConfig(config.TargetConfig{Name: "a", Active: true}), nil, []*fakeTarget{{name: "a"}})

	_, err := fix.pipeline.ProcessNzblnk(context.Background(), "nzblnk:?h=abc", "test", nil)
	if !errors.Is(err, models.ErrNoActiveEngines) {
		t.Fatalf("error = %v, want ErrNoActiveEngines", err)
	}
}

func TestSearchParallelFirstValidWins(t *testing.T) {
	engines := []search.Engine{
		&fakeEngine{name: "slow", doc: completeDoc(), delay: 300 * time.Millisecond},
		&fakeEngine{name: "failing", err: errors.New("down")},
		&fakeEngine{name: "fast", doc: completeDoc(), delay: 20 * time.Millisecond},
	}
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	cfg.Search.Strategy = config.StrategyParallel
	fix := newFixture(cfg, engines, []*fakeTarget{{name: "a"}})

	item, err := fix.pipeline.ProcessNzblnk(context.Background(), "nzblnk:?h=abc123", "test", nil)
	if err != nil {
		t.Fatalf("ProcessNzblnk failed: %v", err)
	}
	if item.SearchEngine != "fast" {
		t.Errorf("search engine = %q, want fast", item.SearchEngine)
	}
}

func TestSearchParallelIncompleteExcluded(t *testing.T) {
	engines := []search.Engine{
		&fakeEngine{name: "incomplete", doc: incompleteDoc()},
		&fakeEngine{name: "good", doc: completeDoc(), delay: 50 * time.Millisecond},
	}
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	cfg.Search.Strategy = config.StrategyParallel
	fix := newFixture(cfg, engines, []*fakeTarget{{name: "a"}})

	item, err := fix.pipeline.ProcessNzblnk(context.Background(), "nzblnk:?h=abc123", "test", nil)
	if err != nil {
		t.Fatalf("ProcessNzblnk failed: %v", err)
	}
	if item.SearchEngine != "good" {
		t.Errorf("search engine = %q, want good", item.SearchEngine)
	}
}

func TestDispatchIsolatesTargetFailures(t *testing.T) {
	cfg := baseConfig(
		config.TargetConfig{Name: "a", Active: true},
		config.TargetConfig{Name: "b", Active: true},
	)
	fakes := []*fakeTarget{
		{name: "a", err: &targets.Error{Target: "a", Err: errors.New("connection refused")}},
		{name: "b"},
	}
	fix := newFixture(cfg, nil, fakes)

	doc := completeDoc()
	doc.SetMeta(nzb.MetaTitle, "My.Show")
	content, _ := doc.Serialize(false, "")

	item, err := fix.pipeline.AddNZBFile(context.Background(), content, "My.Show.nzb", "test", nil)
	if err != nil {
		t.Fatalf("AddNZBFile failed: %v", err)
	}

	if item.Status != models.ItemWarn {
		t.Errorf("status = %q, want warn", item.Status)
	}
	if item.Bindings[0].Status != models.BindingError {
		t.Errorf("binding a = %q, want error", item.Bindings[0].Status)
	}
	if item.Bindings[0].ErrorMessage == "" {
		t.Error("binding a should record its failure")
	}
	if item.Bindings[1].Status != models.BindingSuccess {
		t.Errorf("binding b = %q, want success", item.Bindings[1].Status)
	}
	// Both targets were attempted despite the failure.
	if fix.targets[0].pushCount() != 1 || fix.targets[1].pushCount() != 1 {
		t.Errorf("pushes = %d/%d, want 1/1", fix.targets[0].pushCount(), fix.targets[1].pushCount())
	}
	if fix.notifier.count("warn") != 1 {
		t.Errorf("warn notifications = %d, want 1", fix.notifier.count("warn"))
	}
}

func TestDispatchAllTargetsFail(t *testing.T) {
	cfg := baseConfig(
		config.TargetConfig{Name: "a", Active: true},
		config.TargetConfig{Name: "b", Active: true},
	)
	fakes := []*fakeTarget{
		{name: "a", err: errors.New("boom")},
		{name: "b", err: errors.New("boom")},
	}
	fix := newFixture(cfg, nil, fakes)

	content, _ := completeDoc().Serialize(false, "")
	item, err := fix.pipeline.AddNZBFile(context.Background(), content, "x.nzb", "test", nil)
	if !errors.Is(err, models.ErrPushFailed) {
		t.Fatalf("error = %v, want ErrPushFailed", err)
	}
	if item.Status != models.ItemError {
		t.Errorf("status = %q, want error", item.Status)
	}
	if fix.notifier.count("error") != 1 {
		t.Errorf("error notifications = %d, want 1", fix.notifier.count("error"))
	}
}

func TestDispatchTargetOverride(t *testing.T) {
	cfg := baseConfig(
		config.TargetConfig{Name: "a", Active: true},
		config.TargetConfig{Name: "b", Active: false},
	)
	fakes := []*fakeTarget{{name: "a"}, {name: "b"}}
	fix := newFixture(cfg, nil, fakes)

	content, _ := completeDoc().Serialize(false, "")
	item, err := fix.pipeline.AddNZBFile(context.Background(), content, "x.nzb", "test", []string{"b"})
	if err != nil {
		t.Fatalf("AddNZBFile failed: %v", err)
	}

	// The override activates exactly the named target.
	if item.Bindings[0].Active || !item.Bindings[1].Active {
		t.Errorf("bindings active = %v/%v, want false/true", item.Bindings[0].Active, item.Bindings[1].Active)
	}
	if fix.targets[0].pushCount() != 0 || fix.targets[1].pushCount() != 1 {
		t.Errorf("pushes = %d/%d, want 0/1", fix.targets[0].pushCount(), fix.targets[1].pushCount())
	}
}

func TestDispatchNoActiveTargets(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: false})
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	content, _ := completeDoc().Serialize(false, "")
	_, err := fix.pipeline.AddNZBFile(context.Background(), content, "x.nzb", "test", nil)
	if !errors.Is(err, models.ErrNoActiveTargets) {
		t.Fatalf("error = %v, want ErrNoActiveTargets", err)
	}
}

func TestAddNZBFileMetadataFromFilename(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	content, _ := completeDoc().Serialize(false, "")
	item, err := fix.pipeline.AddNZBFile(context.Background(), content, "My.Movie{{hunter2}}.nzb", "test", nil)
	if err != nil {
		t.Fatalf("AddNZBFile failed: %v", err)
	}
	if item.Title != "My.Movie" || item.Password != "hunter2" {
		t.Errorf("title/password = %q/%q", item.Title, item.Password)
	}

	// AddMeta writes both back into the dispatched document.
	up := fix.targets[0].pushes[0]
	doc, err := nzb.ParseString(up.Content)
	if err != nil {
		t.Fatalf("re-parsing dispatched content: %v", err)
	}
	if doc.MetaValue(nzb.MetaTitle) != "My.Movie" || doc.MetaValue(nzb.MetaPassword) != "hunter2" {
		t.Errorf("dispatched meta = %q/%q", doc.MetaValue(nzb.MetaTitle), doc.MetaValue(nzb.MetaPassword))
	}
}

func TestAddNZBFileInvalidPayload(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	item, err := fix.pipeline.AddNZBFile(context.Background(), "garbage", "x.nzb", "test", nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if item.Status != models.ItemError {
		t.Errorf("status = %q, want error", item.Status)
	}
}

func TestApplyProcessingTitleAndSubjects(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	cfg.Processing.TitleStyle = config.TitleDots
	cfg.Processing.RemoveSubjects = []string{".sfv"}
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	doc := &nzb.Document{Files: []nzb.File{
		{Subject: `upload [1/2] - "a.rar" (1/1)`, Segments: []nzb.Segment{{Number: 1, ID: "a@b"}}},
		{Subject: `upload [2/2] - "a.SFV" (1/1)`, Segments: []nzb.Segment{{Number: 1, ID: "b@b"}}},
	}}
	doc.SetMeta(nzb.MetaTitle, "My Show")
	content, _ := doc.Serialize(false, "")

	item, err := fix.pipeline.AddNZBFile(context.Background(), content, "x.nzb", "test", nil)
	if err != nil {
		t.Fatalf("AddNZBFile failed: %v", err)
	}
	if item.Title != "My.Show" {
		t.Errorf("title = %q, want My.Show", item.Title)
	}

	dispatched, err := nzb.ParseString(fix.targets[0].pushes[0].Content)
	if err != nil {
		t.Fatalf("re-parsing dispatched content: %v", err)
	}
	if len(dispatched.Files) != 1 {
		t.Errorf("dispatched files = %d, want 1 (sfv removed)", len(dispatched.Files))
	}
}

func buildArchiveZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := writer.Create(name)
		if err != nil {
			t.Fatalf("creating zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing zip entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestProcessArchiveCategoryResolvedOncePerTarget(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{
		Name:   "a",
		Active: true,
		Categories: config.CategorySettings{
			Mode: config.CategoryManual,
			List: []config.CategoryRule{{Name: "picked"}},
		},
	})
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	content, _ := completeDoc().Serialize(false, "")
	data := buildArchiveZip(t, map[string]string{
		"one.nzb":   content,
		"two.nzb":   content,
		"three.nzb": content,
	})

	items, err := fix.pipeline.ProcessArchive(context.Background(), data, "bundle.zip", "test", nil, false)
	if err != nil {
		t.Fatalf("ProcessArchive failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}

	// One dialog for three concurrent items sharing the batch.
	if got := fix.dialogs.opened.Load(); got != 1 {
		t.Errorf("dialogs opened = %d, want 1", got)
	}
	if fix.targets[0].pushCount() != 3 {
		t.Errorf("pushes = %d, want 3", fix.targets[0].pushCount())
	}
	for _, up := range fix.targets[0].pushes {
		if up.Category != "picked" {
			t.Errorf("upload category = %q, want picked", up.Category)
		}
	}
	for _, item := range items {
		if item.Status != models.ItemSuccess {
			t.Errorf("item %s status = %q, want success", item.Filename, item.Status)
		}
	}
	if fix.notifier.count("success") == 0 {
		t.Error("expected batch success notification")
	}
}

func TestProcessArchiveReviewDeselect(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	cfg.Processing.ReviewDialog = true
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	content, _ := completeDoc().Serialize(false, "")
	data := buildArchiveZip(t, map[string]string{
		"keep.nzb": content,
		"drop.nzb": content,
	})

	// Answer the review dialog selecting only keep.nzb.
	fix.dialogs.answerFn = func(payload interface{}) json.RawMessage {
		raw, _ := json.Marshal(payload)
		var review struct {
			Items []struct {
				ID       string `json:"id"`
				Filename string `json:"filename"`
			} `json:"items"`
		}
		json.Unmarshal(raw, &review)
		for _, entry := range review.Items {
			if entry.Filename == "keep.nzb" {
				return json.RawMessage(fmt.Sprintf(`{"selected":[%q]}`, entry.ID))
			}
		}
		return json.RawMessage(`{"selected":[]}`)
	}

	items, err := fix.pipeline.ProcessArchive(context.Background(), data, "bundle.zip", "test", nil, false)
	if err != nil {
		t.Fatalf("ProcessArchive failed: %v", err)
	}

	byName := map[string]*models.Item{}
	for _, item := range items {
		byName[item.Filename] = item
	}
	kept, dropped := byName["keep.nzb"], byName["drop.nzb"]
	if kept == nil || dropped == nil {
		t.Fatalf("items = %v", byName)
	}
	if kept.Status != models.ItemSuccess {
		t.Errorf("kept status = %q, want success", kept.Status)
	}
	if dropped.Status != models.ItemWarn {
		t.Errorf("dropped status = %q, want warn", dropped.Status)
	}
	for _, b := range dropped.Bindings {
		if b.Active || b.Status != models.BindingInactive {
			t.Errorf("dropped binding = %+v, want inactive", b)
		}
	}
	if fix.targets[0].pushCount() != 1 {
		t.Errorf("pushes = %d, want 1", fix.targets[0].pushCount())
	}
}

func TestProcessArchiveReviewCancelled(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	cfg.Processing.ReviewDialog = true
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})
	fix.dialogs.err = dialog.ErrCancelled

	content, _ := completeDoc().Serialize(false, "")
	data := buildArchiveZip(t, map[string]string{"one.nzb": content})

	items, err := fix.pipeline.ProcessArchive(context.Background(), data, "bundle.zip", "test", nil, false)
	if !errors.Is(err, dialog.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if len(items) != 1 || items[0].Status != models.ItemError {
		t.Errorf("items = %v, want single failed item", items)
	}
	if fix.targets[0].pushCount() != 0 {
		t.Error("cancelled batch must not dispatch")
	}
}

func TestProcessArchiveNoNZBFiles(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	data := buildArchiveZip(t, map[string]string{"readme.txt": "hi"})
	if _, err := fix.pipeline.ProcessArchive(context.Background(), data, "bundle.zip", "test", nil, false); err == nil {
		t.Fatal("expected error for archive without NZB files")
	}
	if fix.notifier.count("error") != 1 {
		t.Errorf("error notifications = %d, want 1", fix.notifier.count("error"))
	}
}

func TestProcessArchivePartialFailure(t *testing.T) {
	cfg := baseConfig(config.TargetConfig{Name: "a", Active: true})
	fix := newFixture(cfg, nil, []*fakeTarget{{name: "a"}})

	content, _ := completeDoc().Serialize(false, "")
	data := buildArchiveZip(t, map[string]string{
		"good.nzb":   content,
		"broken.nzb": "not xml",
	})

	items, err := fix.pipeline.ProcessArchive(context.Background(), data, "bundle.zip", "test", nil, false)
	if err != nil {
		t.Fatalf("ProcessArchive failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if fix.notifier.count("warn") == 0 {
		t.Error("expected batch warn notification for partial failure")
	}
}

func TestBatchStateMemoizes(t *testing.T) {
	batch := newBatchState()
	var calls atomic.Int32

	resolve := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "tv", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			category, err := batch.category(context.Background(), 0, resolve)
			if err != nil || category != "tv" {
				t.Errorf("category = (%q, %v)", category, err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("resolve calls = %d, want 1", calls.Load())
	}

	// A different target index resolves independently.
	if _, err := batch.category(context.Background(), 1, resolve); err != nil {
		t.Fatalf("category failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("resolve calls = %d, want 2", calls.Load())
	}
}

func TestBatchStateErrorNotCached(t *testing.T) {
	batch := newBatchState()
	calls := 0
	failing := func(context.Context) (string, error) {
		calls++
		return "", errors.New("declined")
	}

	if _, err := batch.category(context.Background(), 0, failing); err == nil {
		t.Fatal("expected error")
	}
	// A later attempt retries instead of returning the cached failure.
	if _, err := batch.category(context.Background(), 0, failing); err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("resolve calls = %d, want 2", calls)
	}
}
