// Package eval runs a batch of questions through the pipeline and checks
// the answers against simple expectations.
package eval

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ziadkadry99/fingraph/internal/pipeline"
	"github.com/ziadkadry99/fingraph/internal/progress"
)

// Case is one question with its expectations. Cases that share a
// ConversationID run as one conversation, in file order.
type Case struct {
	Question       string   `yaml:"question"`
	ConversationID string   `yaml:"conversation_id,omitempty"`
	ExpectKeywords []string `yaml:"expect_keywords,omitempty"`
	ExpectEntity   string   `yaml:"expect_entity,omitempty"`
	ExpectCategory string   `yaml:"expect_category,omitempty"`
	// ExpectError is the error kind the turn must end with; empty means
	// the turn must succeed.
	ExpectError   string  `yaml:"expect_error,omitempty"`
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
}

// Suite is an eval file.
type Suite struct {
	Name  string `yaml:"name"`
	Cases []Case `yaml:"cases"`
}

// Load reads a suite from a YAML file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading eval file: %w", err)
	}
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing eval file %s: %w", path, err)
	}
	if len(s.Cases) == 0 {
		return nil, fmt.Errorf("eval file %s has no cases", path)
	}
	for i, c := range s.Cases {
		if strings.TrimSpace(c.Question) == "" {
			return nil, fmt.Errorf("eval file %s: case %d has no question", path, i+1)
		}
	}
	return &s, nil
}

// Asker answers one turn.
type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) pipeline.Response
}

// Result is the outcome of one case.
type Result struct {
	Case     Case
	Response pipeline.Response
	Failures []string
}

// Passed reports whether every expectation held.
func (r Result) Passed() bool { return len(r.Failures) == 0 }

// Report summarizes a run.
type Report struct {
	Results       []Result
	Passed        int
	AvgConfidence float64
	AvgDuration   time.Duration
	ByErrorKind   map[string]int
}

// PassRate is the fraction of passing cases.
func (r Report) PassRate() float64 {
	if len(r.Results) == 0 {
		return 0
	}
	return float64(r.Passed) / float64(len(r.Results))
}

// Failed returns the failing results.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed() {
			out = append(out, res)
		}
	}
	return out
}

// ErrorKinds returns the error kinds seen, sorted.
func (r Report) ErrorKinds() []string {
	kinds := make([]string, 0, len(r.ByErrorKind))
	for k := range r.ByErrorKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Run asks every case in order. A nil reporter runs silently.
func Run(ctx context.Context, asker Asker, suite *Suite, reporter progress.Reporter) Report {
	if reporter != nil {
		reporter.Start(len(suite.Cases))
		defer reporter.Finish()
	}

	report := Report{ByErrorKind: make(map[string]int)}
	var totalConf float64
	var totalMs int64
	for i, c := range suite.Cases {
		if ctx.Err() != nil {
			break
		}
		id := c.ConversationID
		if id == "" {
			id = fmt.Sprintf("eval-%d", i+1)
		}
		resp := asker.Ask(ctx, pipeline.Request{Question: c.Question, ConversationID: id})
		res := Result{Case: c, Response: resp, Failures: check(c, resp)}
		report.Results = append(report.Results, res)
		if res.Passed() {
			report.Passed++
		}
		if resp.ErrorKind != "" {
			report.ByErrorKind[string(resp.ErrorKind)]++
		}
		totalConf += resp.Confidence
		totalMs += resp.ProcessingDurationMs

		if reporter != nil {
			reporter.Update(i+1, truncate(c.Question, 40))
		}
	}
	if n := len(report.Results); n > 0 {
		report.AvgConfidence = totalConf / float64(n)
		report.AvgDuration = time.Duration(totalMs/int64(n)) * time.Millisecond
	}
	return report
}

func check(c Case, resp pipeline.Response) []string {
	var failures []string
	if string(resp.ErrorKind) != c.ExpectError {
		want := c.ExpectError
		if want == "" {
			want = "success"
		}
		got := string(resp.ErrorKind)
		if got == "" {
			got = "success"
		}
		failures = append(failures, fmt.Sprintf("expected %s, got %s", want, got))
	}
	answer := strings.ToLower(resp.AnswerText)
	for _, kw := range c.ExpectKeywords {
		if !strings.Contains(answer, strings.ToLower(kw)) {
			failures = append(failures, fmt.Sprintf("answer does not mention %q", kw))
		}
	}
	if c.ExpectEntity != "" && !strings.EqualFold(resp.EntityID, c.ExpectEntity) {
		failures = append(failures, fmt.Sprintf("expected company %s, got %q", c.ExpectEntity, resp.EntityID))
	}
	if c.ExpectCategory != "" && string(resp.QueryCategory) != c.ExpectCategory {
		failures = append(failures, fmt.Sprintf("expected category %s, got %q", c.ExpectCategory, resp.QueryCategory))
	}
	if resp.Confidence < c.MinConfidence {
		failures = append(failures, fmt.Sprintf("confidence %.2f below %.2f", resp.Confidence, c.MinConfidence))
	}
	return failures
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
