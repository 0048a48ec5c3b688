package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/fingraph/internal/schema"
)

// Parameter names the generator may bind. Generated queries must use these
// instead of literals.
const (
	ParamSymbol    = "symbol"
	ParamSymbol2   = "symbol2"
	ParamYear      = "year"
	ParamStartYear = "startYear"
	ParamEndYear   = "endYear"
	ParamThreshold = "threshold"
	ParamSector    = "sector"
	ParamLimit     = "limit"
)

var (
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	lastYearsRe = regexp.MustCompile(`\b(?:last|past)\s+(\d{1,2})\s+years?\b`)
	sinceRe     = regexp.MustCompile(`\b(?:since|from)\s+((?:19|20)\d{2})\b`)
	percentRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:%|percent)`)
	fractionRe  = regexp.MustCompile(`(?:^|[^\d.])(0?\.\d+|1\.0+)\b`)
	topNRe      = regexp.MustCompile(`\btop\s+(\d{1,3})\b`)
)

// ExtractParams derives parameter bindings from the question and the
// resolved entities. Only values present in the question are bound.
func ExtractParams(question, entityID string, others []string, d *schema.Descriptor, now time.Time) map[string]any {
	params := make(map[string]any)
	if entityID != "" {
		params[ParamSymbol] = entityID
	}
	for _, o := range others {
		if o != "" && o != entityID {
			params[ParamSymbol2] = o
			break
		}
	}

	q := strings.ToLower(question)

	var years []int
	for _, m := range yearRe.FindAllString(q, -1) {
		y, _ := strconv.Atoi(m)
		years = append(years, y)
	}
	if len(years) > 0 {
		params[ParamYear] = years[0]
	}
	switch {
	case len(years) >= 2:
		sorted := append([]int(nil), years...)
		sort.Ints(sorted)
		params[ParamStartYear] = sorted[0]
		params[ParamEndYear] = sorted[len(sorted)-1]
	case sinceRe.MatchString(q):
		y, _ := strconv.Atoi(sinceRe.FindStringSubmatch(q)[1])
		params[ParamStartYear] = y
		params[ParamEndYear] = now.Year()
	case lastYearsRe.MatchString(q):
		n, _ := strconv.Atoi(lastYearsRe.FindStringSubmatch(q)[1])
		params[ParamStartYear] = now.Year() - n
		params[ParamEndYear] = now.Year()
	case len(years) == 1:
		params[ParamStartYear] = years[0]
		params[ParamEndYear] = years[0]
	}

	if m := percentRe.FindStringSubmatch(q); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			params[ParamThreshold] = f / 100
		}
	} else if m := fractionRe.FindStringSubmatch(q); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			params[ParamThreshold] = f
		}
	}

	if m := topNRe.FindStringSubmatch(q); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			params[ParamLimit] = n
		}
	}

	if d != nil {
		for _, s := range d.Sectors() {
			if strings.Contains(q, strings.ToLower(s)) {
				params[ParamSector] = s
				break
			}
		}
	}
	return params
}

// TimeRelative reports whether ExtractParams binds a year range from the
// current date rather than from the question alone.
func TimeRelative(question string) bool {
	q := strings.ToLower(question)
	if len(yearRe.FindAllString(q, -1)) >= 2 {
		return false
	}
	return sinceRe.MatchString(q) || lastYearsRe.MatchString(q)
}

// paramDescriptions documents each parameter for the generation prompt.
var paramDescriptions = map[string]string{
	ParamSymbol:    "ticker of the company the question is about",
	ParamSymbol2:   "ticker of the second company in a comparison",
	ParamYear:      "the year mentioned in the question (integer)",
	ParamStartYear: "first year of the requested range (integer)",
	ParamEndYear:   "last year of the requested range (integer)",
	ParamThreshold: "numeric threshold mentioned in the question (float)",
	ParamSector:    "sector name mentioned in the question",
	ParamLimit:     "number of results requested (integer)",
}

// boundNames returns the keys of params in a stable order.
func boundNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Placeholders binds every parameter name a query may use, so that
// hand-written queries can be validated without a question.
func Placeholders() map[string]any {
	params := make(map[string]any, len(paramDescriptions))
	for name := range paramDescriptions {
		params[name] = nil
	}
	return params
}
