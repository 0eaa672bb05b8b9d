package nzb

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Thresholds configures the completeness check.
// FileThreshold is an absolute count of tolerated missing files,
// SegmentThresholdPercent a tolerated percentage of missing segments.
type Thresholds struct {
	FileCheck               bool
	FileThreshold           int
	SegmentCheck            bool
	SegmentThresholdPercent float64
}

// Completeness is the verdict of a completeness check together with the raw
// counters it was derived from.
type Completeness struct {
	Complete               bool
	Reason                 string
	FilesTotal             int
	FilesExpected          int
	FilesMissing           int
	SegmentsTotal          int
	SegmentsExpected       int
	SegmentsMissing        int
	SegmentsMissingPercent float64
}

// Subjects encode counts as "(n/m)" or "[n/m]" pairs: when a subject carries
// more than one pair the first is the file counter of the whole posting and
// the last the segment counter of that file.
var countPairRegexp = regexp.MustCompile(`[(\[](\d{1,6})\s*/\s*(\d{1,6})[)\]]`)

// CheckCompleteness compares expected file/segment counts parsed from the
// posting subjects against what the document actually contains. Uploaders
// occasionally revise the total upward mid-post, so the expected file count
// is the maximum seen across all subjects.
func CheckCompleteness(doc *Document, t Thresholds) Completeness {
	result := Completeness{FilesTotal: len(doc.Files)}

	if len(doc.Files) == 0 {
		result.Reason = "NZB file contains no files"
		return result
	}

	for _, file := range doc.Files {
		pairs := countPairRegexp.FindAllStringSubmatch(file.Subject, -1)

		if len(pairs) > 1 {
			if expected, err := strconv.Atoi(pairs[0][2]); err == nil && expected > result.FilesExpected {
				result.FilesExpected = expected
			}
		}

		expectedSegments := 0
		if len(pairs) > 0 {
			expectedSegments, _ = strconv.Atoi(pairs[len(pairs)-1][2])
		}
		if expectedSegments == 0 {
			// No subject counter, fall back to the highest segment number.
			for _, seg := range file.Segments {
				if seg.Number > expectedSegments {
					expectedSegments = seg.Number
				}
			}
		}

		result.SegmentsExpected += expectedSegments
		result.SegmentsTotal += len(file.Segments)
	}

	if result.FilesExpected > result.FilesTotal {
		result.FilesMissing = result.FilesExpected - result.FilesTotal
	}
	if result.SegmentsExpected > result.SegmentsTotal {
		result.SegmentsMissing = result.SegmentsExpected - result.SegmentsTotal
	}
	if result.SegmentsExpected > 0 {
		result.SegmentsMissingPercent = math.Round(float64(result.SegmentsMissing)/float64(result.SegmentsExpected)*100*100) / 100
	}

	var reasons []string

	// A document without a single segment is unusable no matter what the
	// thresholds say.
	if result.SegmentsTotal == 0 {
		reasons = append(reasons, "NZB file contains no segments")
	}

	if t.FileCheck && result.FilesMissing > t.FileThreshold {
		reasons = append(reasons, fmt.Sprintf("%d of %d files missing", result.FilesMissing, result.FilesExpected))
	}

	if t.SegmentCheck && result.SegmentsTotal > 0 {
		if float64(result.SegmentsMissing)/float64(result.SegmentsTotal) > t.SegmentThresholdPercent/100 {
			reasons = append(reasons, fmt.Sprintf("%d of %d segments missing (%.2f%%)",
				result.SegmentsMissing, result.SegmentsExpected, result.SegmentsMissingPercent))
		}
	}

	if len(reasons) > 0 {
		result.Reason = "incomplete NZB file: " + strings.Join(reasons, ", ")
		return result
	}

	result.Complete = true
	return result
}
