// Package extraction proposes expense fields from raw receipt text.
//
// Each field is resolved independently by an ordered pattern list with
// first-match-wins semantics. Receipts are noisy OCR output, so the rules
// trade recall for precision: a plausible value or nothing. The result
// populates a form for human confirmation, never a final record.
package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result holds the best-effort field candidates. Empty fields mean no
// pattern matched, which is a valid outcome rather than an error.
type Result struct {
	StoreName string `json:"storeName,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Date      string `json:"date,omitempty"`
	Category  string `json:"category,omitempty"`
}

var storePatterns = []*regexp.Regexp{
	regexp.MustCompile(`株式会社\S*`),
	regexp.MustCompile(`\S*店`),
	regexp.MustCompile(`\S*マート`),
	regexp.MustCompile(`\S*ストア`),
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`合計\s*[:：]?\s*([\d,]+)円?`),
	regexp.MustCompile(`計\s*[:：]?\s*([\d,]+)円?`),
	regexp.MustCompile(`¥([\d,]+)`),
	regexp.MustCompile(`￥([\d,]+)`),
	regexp.MustCompile(`([\d,]+)円`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\d{4})[年/\-](\d{1,2})[月/\-](\d{1,2})`),
	regexp.MustCompile(`(\d{2})[年/\-](\d{1,2})[月/\-](\d{1,2})`),
}

// categoryRule maps an expense category to its trigger keywords. Rules are
// evaluated in order; list order must be preserved for determinism.
type categoryRule struct {
	category string
	keywords []string
}

var categoryRules = []categoryRule{
	{"交通費", []string{"鉄道", "JR", "バス", "タクシー"}},
	{"会議費", []string{"カフェ", "コーヒー", "スターバックス"}},
	{"接待交際費", []string{"レストラン", "居酒屋"}},
	{"消耗品費", []string{"文具", "事務"}},
	{"図書研究費", []string{"書店", "ブック"}},
}

// Engine extracts candidate fields from recognized text. The zero value is
// not usable; construct with NewEngine.
type Engine struct {
	now func() time.Time
}

// NewEngine creates an extraction Engine using the wall clock for the
// date fallback.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock creates an Engine with a custom clock for testing.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Extract proposes field candidates from raw text. It never fails; fields
// with no matching pattern are left empty, except the date which falls back
// to today.
func (e *Engine) Extract(rawText string) Result {
	return Result{
		StoreName: extractStore(rawText),
		Amount:    extractAmount(rawText),
		Date:      e.extractDate(rawText),
		Category:  extractCategory(rawText),
	}
}

func extractStore(text string) string {
	for _, p := range storePatterns {
		if m := p.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

func extractAmount(text string) string {
	for _, p := range amountPatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			continue
		}
		return strconv.Itoa(n)
	}
	return ""
}

func (e *Engine) extractDate(text string) string {
	for _, p := range datePatterns {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		year := m[1]
		if len(year) == 2 {
			year = "20" + year
		}
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return fmt.Sprintf("%s-%02d-%02d", year, month, day)
	}
	return e.now().Format("2006-01-02")
}

func extractCategory(text string) string {
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.category
			}
		}
	}
	return ""
}
