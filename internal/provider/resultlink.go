package provider

import "strings"

// ExtractResultLink searches a decoded provider response for an HTTP(S) link
// to the final artifact. Providers disagree wildly on where the link lives
// (top-level string fields, lists of strings, lists of objects, nested
// containers), and some change shape between versions, so the search is an
// ordered list of matchers tried in sequence. Returns "" when no known
// shape applies; callers must treat that distinctly from a provider error.
func ExtractResultLink(doc map[string]any) string {
	if doc == nil {
		return ""
	}
	for _, match := range linkMatchers {
		if link := match(doc); link != "" {
			return link
		}
	}
	return ""
}

var linkMatchers = []func(map[string]any) string{
	matchFlatKeys,
	matchMediaObject,
	matchContainers,
	matchJobList,
}

// Keys that may hold the link directly, as a list of links, or as a list of
// objects carrying the link.
var flatLinkKeys = []string{
	"future_links", "video_url", "output_url", "output", "outputs",
	"proxy_links", "proxyLinks", "resultUrls", "result", "url",
}

// Keys inside an object (or list element) that may hold the link.
var innerLinkKeys = []string{"url", "video_url", "output_url", "output", "result"}

// Container keys whose first element is inspected.
var containerKeys = []string{"data", "results", "artifacts"}

func matchFlatKeys(doc map[string]any) string {
	for _, key := range flatLinkKeys {
		if link := valueLink(doc[key]); link != "" {
			return link
		}
	}
	return ""
}

// matchMediaObject handles {"video": {"url": ...}} and friends.
func matchMediaObject(doc map[string]any) string {
	for _, key := range []string{"video", "image", "output_video", "result"} {
		if obj, ok := doc[key].(map[string]any); ok {
			if link := objectLink(obj); link != "" {
				return link
			}
		}
	}
	return ""
}

// matchContainers handles nested shapes like data[0].output_url.
func matchContainers(doc map[string]any) string {
	for _, key := range containerKeys {
		arr, ok := doc[key].([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		if link := elementLink(arr[0]); link != "" {
			return link
		}
	}
	return ""
}

// matchJobList handles job-set envelopes: jobs[i].raw.url and
// jobs[i].output.raw.url.
func matchJobList(doc map[string]any) string {
	jobs, ok := doc["jobs"].([]any)
	if !ok {
		return ""
	}
	for _, j := range jobs {
		job, ok := j.(map[string]any)
		if !ok {
			continue
		}
		if raw, ok := job["raw"].(map[string]any); ok {
			if link := objectLink(raw); link != "" {
				return link
			}
		}
		if out, ok := job["output"].(map[string]any); ok {
			if raw, ok := out["raw"].(map[string]any); ok {
				if link := objectLink(raw); link != "" {
					return link
				}
			}
		}
		if link := elementLink(j); link != "" {
			return link
		}
	}
	return ""
}

// valueLink interprets one candidate value: a URL string, a list of URL
// strings, or a list of objects carrying a URL.
func valueLink(v any) string {
	switch val := v.(type) {
	case string:
		if isHTTPLink(val) {
			return val
		}
	case []any:
		if len(val) == 0 {
			return ""
		}
		return elementLink(val[0])
	}
	return ""
}

func elementLink(v any) string {
	switch el := v.(type) {
	case string:
		if isHTTPLink(el) {
			return el
		}
	case map[string]any:
		return objectLink(el)
	}
	return ""
}

func objectLink(obj map[string]any) string {
	for _, key := range innerLinkKeys {
		switch v := obj[key].(type) {
		case string:
			if isHTTPLink(v) {
				return v
			}
		case []any:
			if len(v) > 0 {
				if s, ok := v[0].(string); ok && isHTTPLink(s) {
					return s
				}
			}
		}
	}
	return ""
}

func isHTTPLink(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
