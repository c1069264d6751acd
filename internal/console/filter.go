package console

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter types accepted by NewOutputFilter.
const (
	FilterNone   = "none"
	FilterErrors = "errors"
	FilterSearch = "search"
	FilterRegex  = "regex"
)

var errorKeywords = []string{
	"error",
	"exception",
	"fatal",
	"warning",
	"warn",
	"failed",
	"failure",
	"critical",
	"panic",
	"stack trace",
	"traceback",
}

// OutputFilter selects which console lines a session receives.
type OutputFilter struct {
	FilterType    string `json:"type"`
	Pattern       string `json:"pattern,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`

	regex *regexp.Regexp
}

// FilterResult is the outcome of filtering one line. Highlight holds the
// start and end offsets of the first match.
type FilterResult struct {
	Include   bool  `json:"include"`
	Highlight []int `json:"highlight,omitempty"`
}

// NewOutputFilter validates filterType and compiles regex patterns.
func NewOutputFilter(filterType, pattern string, caseSensitive bool) (*OutputFilter, error) {
	if filterType == "" {
		filterType = FilterNone
	}
	filter := &OutputFilter{
		FilterType:    filterType,
		Pattern:       pattern,
		CaseSensitive: caseSensitive,
	}

	switch filterType {
	case FilterNone, FilterErrors, FilterSearch:
	case FilterRegex:
		if pattern == "" {
			break
		}
		flags := ""
		if !caseSensitive {
			flags = "(?i)"
		}
		compiled, err := regexp.Compile(flags + pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		filter.regex = compiled
	default:
		return nil, fmt.Errorf("unknown filter type %q", filterType)
	}

	return filter, nil
}

// Filter applies the filter to one line.
func (f *OutputFilter) Filter(line string) FilterResult {
	result := FilterResult{Include: true}

	switch f.FilterType {
	case FilterErrors:
		lower := strings.ToLower(line)
		result.Include = false
		for _, keyword := range errorKeywords {
			if idx := strings.Index(lower, keyword); idx >= 0 {
				result.Include = true
				result.Highlight = []int{idx, idx + len(keyword)}
				break
			}
		}

	case FilterSearch:
		if f.Pattern == "" {
			return result
		}
		haystack, needle := line, f.Pattern
		if !f.CaseSensitive {
			haystack = strings.ToLower(line)
			needle = strings.ToLower(f.Pattern)
		}
		idx := strings.Index(haystack, needle)
		result.Include = idx >= 0
		if result.Include {
			result.Highlight = []int{idx, idx + len(needle)}
		}

	case FilterRegex:
		if f.regex == nil {
			return result
		}
		match := f.regex.FindStringIndex(line)
		result.Include = match != nil
		result.Highlight = match
	}

	return result
}

// FilterLines keeps the lines the filter includes.
func (f *OutputFilter) FilterLines(lines []string) []string {
	if f == nil || f.FilterType == FilterNone {
		return lines
	}

	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		if f.Filter(line).Include {
			filtered = append(filtered, line)
		}
	}
	return filtered
}
