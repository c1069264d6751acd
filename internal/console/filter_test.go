package console

import (
	"reflect"
	"testing"
)

func TestOutputFilterModes(t *testing.T) {
	cases := []struct {
		name          string
		filterType    string
		pattern       string
		caseSensitive bool
		line          string
		include       bool
		highlight     []int
	}{
		{"none keeps everything", FilterNone, "", false, "[Server thread/INFO]: Preparing spawn area", true, nil},
		{"errors matches warn level", FilterErrors, "", false, "[Server thread/WARN]: Can't keep up!", true, []int{15, 19}},
		{"errors skips info", FilterErrors, "", false, "[Server thread/INFO]: Done (3.2s)!", false, nil},
		{"search ignores case", FilterSearch, "joined", false, "Steve JOINED the game", true, []int{6, 12}},
		{"search case sensitive", FilterSearch, "joined", true, "Steve JOINED the game", false, nil},
		{"empty search keeps line", FilterSearch, "", false, "anything", true, nil},
		{"regex match", FilterRegex, `\w+ left the game`, false, "Alex left the game", true, []int{0, 18}},
		{"regex miss", FilterRegex, `^<\w+>`, false, "[Server thread/INFO]: Alex left the game", false, nil},
	}

	for _, tc := range cases {
		filter, err := NewOutputFilter(tc.filterType, tc.pattern, tc.caseSensitive)
		if err != nil {
			t.Fatalf("%s: failed to create filter: %v", tc.name, err)
		}
		result := filter.Filter(tc.line)
		if result.Include != tc.include {
			t.Fatalf("%s: expected include=%v, got %v", tc.name, tc.include, result.Include)
		}
		if tc.highlight != nil && !reflect.DeepEqual(result.Highlight, tc.highlight) {
			t.Fatalf("%s: expected highlight %v, got %v", tc.name, tc.highlight, result.Highlight)
		}
	}
}

func TestNewOutputFilterRejectsInvalidInput(t *testing.T) {
	if _, err := NewOutputFilter("colour", "", false); err == nil {
		t.Fatalf("expected unknown filter type to fail")
	}
	if _, err := NewOutputFilter(FilterRegex, "(", false); err == nil {
		t.Fatalf("expected invalid regex to fail")
	}
	filter, err := NewOutputFilter("", "", false)
	if err != nil || filter.FilterType != FilterNone {
		t.Fatalf("expected empty type to default to none, got %+v (%v)", filter, err)
	}
}

func TestFilterLines(t *testing.T) {
	lines := []string{
		"[Server thread/INFO]: Starting minecraft server",
		"[Server thread/ERROR]: Failed to load level",
		"[Server thread/INFO]: Done (1.0s)!",
	}

	var nilFilter *OutputFilter
	if got := nilFilter.FilterLines(lines); len(got) != 3 {
		t.Fatalf("nil filter should keep all lines, got %d", len(got))
	}

	filter, err := NewOutputFilter(FilterErrors, "", false)
	if err != nil {
		t.Fatalf("failed to create filter: %v", err)
	}
	got := filter.FilterLines(lines)
	if len(got) != 1 || got[0] != lines[1] {
		t.Fatalf("unexpected filtered lines: %v", got)
	}
}
