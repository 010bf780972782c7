package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/tally/pkg/domain"
)

// maxQuestions caps one clarification round.
const maxQuestions = 10

// questionTemplates define the clarifying questions, keyed by the kind of
// unclear element that triggers them. Question text stays in the
// requester's language.
var questionTemplates = map[string]Question{
	"database_complexity": {
		Text:     "%sのデータベース設計で、必要なテーブル数はどれくらいですか？",
		Type:     "number",
		Impact:   "database design effort",
		Category: "technical_specification",
		MinValue: 1, MaxValue: 100,
	},
	"api_complexity": {
		Text:     "%sで必要なAPIエンドポイント数はどれくらいですか？",
		Type:     "number",
		Impact:   "API design and development effort",
		Category: "technical_specification",
		MinValue: 1, MaxValue: 200,
	},
	"ui_complexity": {
		Text:     "%sでテスト対象となるページ数はどれくらいですか？",
		Type:     "number",
		Impact:   "test implementation effort",
		Category: "quality_assurance",
		MinValue: 1, MaxValue: 500,
	},
	"integration_complexity": {
		Text:     "%sで必要な外部システム連携はありますか？",
		Type:     "choice",
		Impact:   "integration test effort",
		Category: "system_integration",
		Options:  []string{"なし", "簡単な連携", "複雑な連携"},
	},
	"security_level": {
		Text:     "%sのセキュリティ要件レベルはどの程度ですか？",
		Type:     "choice",
		Impact:   "security implementation effort",
		Category: "security_requirement",
		Options:  []string{"基本", "標準", "高度"},
	},
	"performance_requirement": {
		Text:     "%sのパフォーマンス要件はどの程度ですか？",
		Type:     "choice",
		Impact:   "performance tuning effort",
		Category: "performance_requirement",
		Options:  []string{"標準", "高パフォーマンス", "極めて高い"},
	},
	"data_volume": {
		Text:     "%sで扱うデータ量はどの程度を想定していますか？",
		Type:     "choice",
		Impact:   "data processing effort",
		Category: "data_requirement",
		Options:  []string{"小規模", "中規模", "大規模"},
	},
}

// assumptionKeyByQuestionKind maps a numeric question kind to the
// assumption it refines.
var assumptionKeyByQuestionKind = map[string]string{
	"database_complexity": "database_tables",
	"api_complexity":      "api_endpoints",
	"ui_complexity":       "test_pages",
}

var categoryPriority = map[string]int{
	"technical_specification": 3,
	"system_integration":      3,
	"quality_assurance":       2,
	"security_requirement":    2,
	"performance_requirement": 2,
	"data_requirement":        1,
}

// QuestionStage derives clarifying questions from the analyzed
// deliverables and the low-confidence estimates. When it produces none,
// routing skips the answer-collection suspension entirely. It also seeds
// the finalized assumptions with the current defaults so downstream
// stages always find them.
type QuestionStage struct{}

// NewQuestionStage creates the question generator.
func NewQuestionStage() *QuestionStage { return &QuestionStage{} }

func (s *QuestionStage) Name() string { return StageQuestions }

func (s *QuestionStage) Execute(_ context.Context, state domain.State) (domain.Patch, error) {
	var analyzed []AnalyzedDeliverable
	if err := domain.DecodeField(state, KeyAnalyzedDeliverables, &analyzed); err != nil {
		return nil, domain.Validationf("analyzed deliverables are malformed: %v", err)
	}
	var estimates []EffortEstimate
	if err := domain.DecodeField(state, KeyEffortEstimates, &estimates); err != nil {
		return nil, domain.Validationf("effort estimates are malformed: %v", err)
	}

	assumptions := map[string]any{}
	_ = domain.DecodeField(state, KeyTechAssumptions, &assumptions)

	questions := buildQuestions(unclearElements(analyzed, estimates), assumptions)

	patch := domain.Patch{KeyQuestions: questions}
	if !domain.HasField(state, KeyFinalizedAssumptions) {
		patch[KeyFinalizedAssumptions] = assumptions
	}
	return patch, nil
}

type unclearElement struct {
	kind            string
	deliverableName string
	reason          string
}

func unclearElements(analyzed []AnalyzedDeliverable, estimates []EffortEstimate) []unclearElement {
	var out []unclearElement
	add := func(kind, name, reason string) {
		out = append(out, unclearElement{kind: kind, deliverableName: name, reason: reason})
	}

	for _, d := range analyzed {
		text := strings.ToLower(d.Name + " " + d.Description)

		if d.Category == "database" || containsAny(text, "データベース", "db", "テーブル") {
			add("database_complexity", d.Name, "database design details are unclear")
		}
		if d.Category == "backend_development" || d.Category == "integration" || containsAny(text, "api", "サーバー", "連携") {
			add("api_complexity", d.Name, "API surface is unclear")
		}
		if d.Category == "frontend_development" || d.Category == "testing" || containsAny(text, "画面", "ui", "テスト", "ページ") {
			add("ui_complexity", d.Name, "UI and test scope are unclear")
		}
		if d.Category == "security" || containsAny(text, "セキュリティ", "認証", "権限") {
			add("security_level", d.Name, "security requirement level is unclear")
		}
		if containsAny(text, "パフォーマンス", "performance", "高速", "最適化") {
			add("performance_requirement", d.Name, "performance requirements are unclear")
		}
		if d.Category == "integration" || containsAny(text, "連携", "統合", "外部", "third-party") {
			add("integration_complexity", d.Name, "external integration details are unclear")
		}
	}

	for _, e := range estimates {
		if e.ConfidenceLevel < 75 {
			add("data_volume", e.Name, fmt.Sprintf("confidence is only %d%%, data volume needs confirming", e.ConfidenceLevel))
		}
	}
	return out
}

func buildQuestions(elements []unclearElement, assumptions map[string]any) []Question {
	seen := make(map[string]bool)
	questions := make([]Question, 0, len(elements))

	for _, el := range elements {
		combo := el.kind + "/" + el.deliverableName
		if seen[combo] {
			continue
		}
		seen[combo] = true

		template, ok := questionTemplates[el.kind]
		if !ok {
			continue
		}

		q := template
		q.ID = fmt.Sprintf("%s_%d", el.kind, len(questions))
		q.Text = fmt.Sprintf(template.Text, el.deliverableName)
		q.DeliverableName = el.deliverableName

		switch q.Type {
		case "number":
			q.Default = 20
			if key, ok := assumptionKeyByQuestionKind[el.kind]; ok {
				if v, ok := assumptions[key]; ok {
					q.Default = v
				}
			}
		case "choice":
			// Middle option as the default.
			q.Default = q.Options[1]
		}

		questions = append(questions, q)
	}

	if len(questions) > maxQuestions {
		sort.SliceStable(questions, func(i, j int) bool {
			return questionPriority(questions[i]) > questionPriority(questions[j])
		})
		questions = questions[:maxQuestions]
	}
	return questions
}

func questionPriority(q Question) int {
	priority := categoryPriority[q.Category]
	if priority == 0 {
		priority = 1
	}
	nameLower := strings.ToLower(q.DeliverableName)
	if containsAny(nameLower, "設計", "仕様", "api") {
		priority += 2
	} else if containsAny(nameLower, "開発", "実装") {
		priority++
	}
	return priority
}
