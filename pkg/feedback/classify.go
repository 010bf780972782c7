// Package feedback turns free-form rejection text into structured revision
// instructions and a re-entry decision. Everything here is a pure
// function: the feedback-processing stage calls it once per cycle and
// merges the results into the session state.
package feedback

import (
	"regexp"
	"strings"
)

// Category labels one concern detected in the feedback text.
type Category string

const (
	CategoryDeliverable Category = "deliverable_changes"
	CategoryEffort      Category = "effort_adjustments"
	CategoryTech        Category = "tech_changes"
	CategoryPricing     Category = "pricing_adjustments"
	CategoryAssumption  Category = "assumption_changes"
)

// categoryKeywords maps each category to its trigger keywords. A single
// hit marks the category present. Order matters only for the stable
// ordering of the output, not for precedence.
//
// Deliverable detection keys on the nouns, not on action verbs like
// 追加/削除: "工数を追加" is an effort request, not a deliverable one. The
// verbs are still consulted when instructions are generated.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryDeliverable, []string{"成果物", "アイテム", "項目", "納品物"}},
	{CategoryEffort, []string{"工数", "日数", "人日", "時間", "期間", "短縮", "延長"}},
	{CategoryTech, []string{"技術", "スタック", "フレームワーク", "データベース", "言語"}},
	{CategoryPricing, []string{"価格", "金額", "単価", "コスト", "料金", "安く", "高く"}},
	{CategoryAssumption, []string{"前提", "条件", "エンジニア", "レベル", "環境"}},
}

// Urgency grades how quickly the requester wants the revision.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

var urgencyKeywords = []struct {
	level    Urgency
	keywords []string
}{
	{UrgencyHigh, []string{"緊急", "急いで", "すぐに", "明日まで", "至急"}},
	{UrgencyMedium, []string{"できるだけ早く", "なるべく早く", "早めに"}},
	{UrgencyLow, []string{"時間があるときに", "後で", "いつでも"}},
}

// RequestKind labels a concrete numeric request extracted from the text.
type RequestKind string

const (
	RequestEffort RequestKind = "effort_adjustment"
	RequestPrice  RequestKind = "price_adjustment"
	RequestRatio  RequestKind = "ratio_adjustment"
)

// SpecificRequest is one numeric demand ("10人日", "50万円", "20%").
type SpecificRequest struct {
	Kind  RequestKind `json:"kind"`
	Value string      `json:"value"`
	Unit  string      `json:"unit"`
}

var numericPatterns = []struct {
	kind RequestKind
	re   *regexp.Regexp
}{
	{RequestEffort, regexp.MustCompile(`(\d+)(人日|日間|日)`)},
	{RequestEffort, regexp.MustCompile(`(\d+)(時間|h|hour)`)},
	{RequestEffort, regexp.MustCompile(`(\d+)(週間|週|week)`)},
	{RequestEffort, regexp.MustCompile(`(\d+)(ヶ月|月|month)`)},
	{RequestPrice, regexp.MustCompile(`(\d+)(億円|億)`)},
	{RequestPrice, regexp.MustCompile(`(\d+)(万円|万)`)},
	{RequestPrice, regexp.MustCompile(`(\d+)(千円|千)`)},
	{RequestPrice, regexp.MustCompile(`(\d+)(円|yen)`)},
	{RequestRatio, regexp.MustCompile(`(\d+)(%|パーセント|割)`)},
	{RequestRatio, regexp.MustCompile(`(\d+)(倍|x|×)`)},
}

// Classification is the structured reading of one feedback message.
type Classification struct {
	OriginalFeedback string            `json:"original_feedback"`
	Categories       []Category        `json:"detected_categories"`
	SpecificRequests []SpecificRequest `json:"specific_requests"`
	Urgency          Urgency           `json:"urgency_level"`
}

// Has reports whether the classification detected the category.
func (c Classification) Has(cat Category) bool {
	for _, got := range c.Categories {
		if got == cat {
			return true
		}
	}
	return false
}

// Empty reports whether no category matched at all.
func (c Classification) Empty() bool { return len(c.Categories) == 0 }

// Classify analyzes one feedback message. It is deterministic: categories
// come out in a fixed order regardless of keyword positions in the text.
func Classify(feedback string) Classification {
	c := Classification{
		OriginalFeedback: feedback,
		Categories:       []Category{},
		SpecificRequests: []SpecificRequest{},
		Urgency:          UrgencyLow,
	}
	if strings.TrimSpace(feedback) == "" {
		return c
	}

	for _, entry := range categoryKeywords {
		if containsAny(feedback, entry.keywords) {
			c.Categories = append(c.Categories, entry.category)
		}
	}

	for _, p := range numericPatterns {
		for _, m := range p.re.FindAllStringSubmatch(feedback, -1) {
			c.SpecificRequests = append(c.SpecificRequests, SpecificRequest{
				Kind:  p.kind,
				Value: m[1],
				Unit:  m[2],
			})
		}
	}

	for _, entry := range urgencyKeywords {
		if containsAny(feedback, entry.keywords) {
			c.Urgency = entry.level
			break
		}
	}

	return c
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
