// Package detector decides when a landing page needs a headless render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/market-radar/internal/radar"
)

const defaultMinBodyBytes = 2048

// Heuristic promotes pages that look client-rendered.
type Heuristic struct {
	// MinBodyBytes is the size below which script-dominated pages are promoted.
	MinBodyBytes int
	// ScriptPercent is the share of the body inside <script> tags that counts
	// as script-dominated.
	ScriptPercent int
}

// NewHeuristic creates a detector. Zero values fall back to defaults.
func NewHeuristic(scriptPercent int) *Heuristic {
	if scriptPercent <= 0 || scriptPercent > 100 {
		scriptPercent = 25
	}
	return &Heuristic{MinBodyBytes: defaultMinBodyBytes, ScriptPercent: scriptPercent}
}

var spaMarkers = [][]byte{
	[]byte("id=\"__next\""),
	[]byte("id=\"__nuxt\""),
	[]byte("id=\"root\"></div>"),
	[]byte("id=\"app\"></div>"),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("enable javascript"),
}

// ShouldPromote reports whether a headless fetch is needed and why.
func (h *Heuristic) ShouldPromote(resp radar.FetchResponse) (bool, string) {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false, ""
	}
	body := bytes.ToLower(resp.Body)
	if len(bytes.TrimSpace(body)) == 0 {
		return true, "empty body"
	}
	if len(body) < h.MinBodyBytes && scriptPercent(body) >= h.ScriptPercent {
		return true, "script dominated"
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true, "spa marker " + string(marker)
		}
	}
	return false, ""
}

// scriptPercent returns how much of body, in percent, sits inside script
// elements. Unterminated tags count to the end of the document.
func scriptPercent(body []byte) int {
	doc := string(body)
	total := len(doc)
	if total == 0 {
		return 0
	}
	covered := 0
	rest := doc
	for {
		start := strings.Index(rest, "<script")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "</script>")
		if end < 0 {
			covered += len(rest) - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		rest = rest[end:]
	}
	return covered * 100 / total
}
