package nzb

import (
	"fmt"
	"strings"
	"testing"
)

func makeFile(subject string, segments int) File {
	f := File{Subject: subject}
	for i := 1; i <= segments; i++ {
		f.Segments = append(f.Segments, Segment{Number: i, Bytes: 1024, ID: fmt.Sprintf("seg%d@news", i)})
	}
	return f
}

func strictThresholds() Thresholds {
	return Thresholds{FileCheck: true, FileThreshold: 0, SegmentCheck: true, SegmentThresholdPercent: 0}
}

func TestCheckCompletenessComplete(t *testing.T) {
	doc := &Document{Files: []File{
		makeFile(`Show.S01E01 [1/3] - "a.rar" (1/50)`, 50),
		makeFile(`Show.S01E01 [2/3] - "b.rar" (1/50)`, 50),
		makeFile(`Show.S01E01 [3/3] - "c.rar" (1/50)`, 50),
	}}

	result := CheckCompleteness(doc, strictThresholds())
	if !result.Complete {
		t.Fatalf("expected complete, got reason %q", result.Reason)
	}
	if result.FilesExpected != 3 || result.FilesTotal != 3 {
		t.Errorf("files expected/total = %d/%d, want 3/3", result.FilesExpected, result.FilesTotal)
	}
	if result.SegmentsExpected != 150 || result.SegmentsTotal != 150 {
		t.Errorf("segments expected/total = %d/%d, want 150/150", result.SegmentsExpected, result.SegmentsTotal)
	}
}

func TestCheckCompletenessMissingFile(t *testing.T) {
	doc := &Document{Files: []File{
		makeFile(`Show.S01E01 [1/3] - "a.rar" (1/10)`, 10),
		makeFile(`Show.S01E01 [2/3] - "b.rar" (1/10)`, 10),
	}}

	result := CheckCompleteness(doc, strictThresholds())
	if result.Complete {
		t.Fatal("expected incomplete")
	}
	if result.FilesMissing != 1 {
		t.Errorf("files missing = %d, want 1", result.FilesMissing)
	}
	if !strings.Contains(result.Reason, "1 of 3 files missing") {
		t.Errorf("reason = %q", result.Reason)
	}

	// Within a tolerant threshold the same document passes.
	tolerant := strictThresholds()
	tolerant.FileThreshold = 1
	if result := CheckCompleteness(doc, tolerant); !result.Complete {
		t.Errorf("expected complete with threshold 1, got reason %q", result.Reason)
	}
}

func TestCheckCompletenessMissingSegments(t *testing.T) {
	doc := &Document{Files: []File{
		makeFile(`Show [1/1] - "a.rar" (1/100)`, 90),
	}}

	result := CheckCompleteness(doc, strictThresholds())
	if result.Complete {
		t.Fatal("expected incomplete")
	}
	if result.SegmentsMissing != 10 {
		t.Errorf("segments missing = %d, want 10", result.SegmentsMissing)
	}
	if !strings.Contains(result.Reason, "segments missing") {
		t.Errorf("reason = %q", result.Reason)
	}

	// 10 missing of 90 present is ~11.1%; a 15% threshold tolerates it.
	tolerant := strictThresholds()
	tolerant.SegmentThresholdPercent = 15
	if result := CheckCompleteness(doc, tolerant); !result.Complete {
		t.Errorf("expected complete with 15%% threshold, got reason %q", result.Reason)
	}
}

func TestCheckCompletenessSubjectWithoutCounters(t *testing.T) {
	// No (n/m) pair: expected segments fall back to the highest segment number.
	f := File{Subject: `Some upload - "a.rar" yEnc`}
	f.Segments = []Segment{{Number: 1, ID: "a@news"}, {Number: 3, ID: "c@news"}}
	doc := &Document{Files: []File{f}}

	result := CheckCompleteness(doc, strictThresholds())
	if result.Complete {
		t.Fatal("expected incomplete, segment 2 is missing")
	}
	if result.SegmentsExpected != 3 || result.SegmentsMissing != 1 {
		t.Errorf("segments expected/missing = %d/%d, want 3/1", result.SegmentsExpected, result.SegmentsMissing)
	}
}

func TestCheckCompletenessNoSegments(t *testing.T) {
	doc := &Document{Files: []File{{Subject: "empty"}}}

	// Even with every check disabled a segment-less document is unusable.
	result := CheckCompleteness(doc, Thresholds{})
	if result.Complete {
		t.Fatal("expected incomplete")
	}
	if !strings.Contains(result.Reason, "no segments") {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestCheckCompletenessNoFiles(t *testing.T) {
	result := CheckCompleteness(&Document{Files: []File{}}, Thresholds{})
	if result.Complete {
		t.Fatal("expected incomplete")
	}
	if !strings.Contains(result.Reason, "no files") {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestCheckCompletenessChecksDisabled(t *testing.T) {
	doc := &Document{Files: []File{
		makeFile(`Show [1/5] - "a.rar" (1/100)`, 10),
	}}

	result := CheckCompleteness(doc, Thresholds{})
	if !result.Complete {
		t.Errorf("expected complete with checks disabled, got reason %q", result.Reason)
	}
	if result.FilesMissing != 4 || result.SegmentsMissing != 90 {
		t.Errorf("counters still expected: files=%d segments=%d", result.FilesMissing, result.SegmentsMissing)
	}
}
