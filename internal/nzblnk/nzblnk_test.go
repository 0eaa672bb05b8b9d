package nzblnk

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Link
	}{
		{
			name: "all parameters",
			raw:  "nzblnk:?h=abc123&t=My.Show.S01E01&p=secret",
			want: Link{Header: "abc123", Title: "My.Show.S01E01", Password: "secret"},
		},
		{
			name: "title defaults to header",
			raw:  "nzblnk:?h=abc123&p=secret",
			want: Link{Header: "abc123", Title: "abc123", Password: "secret"},
		},
		{
			name: "html escaped separators",
			raw:  "nzblnk:?h=abc123&amp;t=My.Show&amp;p=secret",
			want: Link{Header: "abc123", Title: "My.Show", Password: "secret"},
		},
		{
			name: "double slash form",
			raw:  "nzblnk://?h=abc123&t=My.Show",
			want: Link{Header: "abc123", Title: "My.Show"},
		},
		{
			name: "url encoded values",
			raw:  "nzblnk:?h=abc%20123&t=My%20Show&p=p%26w",
			want: Link{Header: "abc 123", Title: "My Show", Password: "p&w"},
		},
		{
			name: "legacy parameters ignored",
			raw:  "nzblnk:?h=abc123&g=alt.binaries.test&d=1234",
			want: Link{Header: "abc123", Title: "abc123"},
		},
		{
			name: "uppercase scheme",
			raw:  "NZBLNK:?h=abc123",
			want: Link{Header: "abc123", Title: "abc123"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.raw, err)
			}
			if *link != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, *link, tt.want)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, raw := range []string{
		"http://example.com/?h=abc123",
		"nzblnk:?t=Title.Only",
		"",
	} {
		_, err := Parse(raw)
		if !errors.Is(err, ErrInvalidLink) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidLink", raw, err)
		}
	}
}

func TestSplitFilename(t *testing.T) {
	tests := []struct {
		name          string
		title, wantPW string
	}{
		{"My.Movie{{hunter2}}.nzb", "My.Movie", "hunter2"},
		{"My.Movie.nzb", "My.Movie", ""},
		{"My.Movie", "My.Movie", ""},
		{"weird{{}}.nzb", "weird", ""},
		{"UPPER{{pw}}.NZB", "UPPER", "pw"},
	}
	for _, tt := range tests {
		title, pw := SplitFilename(tt.name)
		if title != tt.title || pw != tt.wantPW {
			t.Errorf("SplitFilename(%q) = (%q, %q), want (%q, %q)", tt.name, title, pw, tt.title, tt.wantPW)
		}
	}
}

func TestJoinFilename(t *testing.T) {
	if got := JoinFilename("My.Movie", "hunter2"); got != "My.Movie{{hunter2}}.nzb" {
		t.Errorf("JoinFilename = %q", got)
	}
	if got := JoinFilename("My.Movie", ""); got != "My.Movie.nzb" {
		t.Errorf("JoinFilename = %q", got)
	}
}
