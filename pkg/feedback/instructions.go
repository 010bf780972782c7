package feedback

import "fmt"

// Instruction is one concrete revision step derived from feedback.
type Instruction struct {
	Action      string `json:"action"`
	TargetValue string `json:"target_value,omitempty"`
	TargetUnit  string `json:"target_unit,omitempty"`
	Description string `json:"description"`
	Details     string `json:"details"`
}

// RevisionInstructions groups instructions per concern. Only the fields
// whose category was detected are populated.
type RevisionInstructions struct {
	DeliverableChanges    []Instruction `json:"deliverable_changes"`
	EffortAdjustments     []Instruction `json:"effort_adjustments"`
	TechAssumptionChanges []Instruction `json:"tech_assumption_changes"`
	PricingAdjustments    []Instruction `json:"pricing_adjustments"`
}

// GenerateInstructions expands a classification into the revision record
// the routing policy and the revision stages consult.
func GenerateInstructions(c Classification) RevisionInstructions {
	var out RevisionInstructions
	text := c.OriginalFeedback

	if c.Has(CategoryDeliverable) {
		if containsAny(text, []string{"追加", "add"}) {
			out.DeliverableChanges = append(out.DeliverableChanges, Instruction{
				Action: "add", Description: "成果物を追加する", Details: text,
			})
		}
		if containsAny(text, []string{"削除", "remove", "不要"}) {
			out.DeliverableChanges = append(out.DeliverableChanges, Instruction{
				Action: "remove", Description: "成果物を削除する", Details: text,
			})
		}
		if containsAny(text, []string{"変更", "修正", "update"}) {
			out.DeliverableChanges = append(out.DeliverableChanges, Instruction{
				Action: "modify", Description: "成果物を修正する", Details: text,
			})
		}
	}

	if c.Has(CategoryEffort) {
		for _, req := range c.SpecificRequests {
			if req.Kind != RequestEffort {
				continue
			}
			out.EffortAdjustments = append(out.EffortAdjustments, Instruction{
				Action:      "adjust_effort",
				TargetValue: req.Value,
				TargetUnit:  req.Unit,
				Description: fmt.Sprintf("工数を%s%sに調整", req.Value, req.Unit),
				Details:     text,
			})
		}
		if containsAny(text, []string{"短縮", "減らす", "削減"}) {
			out.EffortAdjustments = append(out.EffortAdjustments, Instruction{
				Action: "reduce_effort", Description: "工数を短縮する", Details: text,
			})
		}
		if containsAny(text, []string{"延長", "増やす", "追加"}) {
			out.EffortAdjustments = append(out.EffortAdjustments, Instruction{
				Action: "increase_effort", Description: "工数を延長する", Details: text,
			})
		}
	}

	if c.Has(CategoryTech) || c.Has(CategoryAssumption) {
		if containsAny(text, []string{"技術", "スタック", "フレームワーク"}) {
			out.TechAssumptionChanges = append(out.TechAssumptionChanges, Instruction{
				Action: "change_tech_stack", Description: "技術スタックを変更する", Details: text,
			})
		}
		if containsAny(text, []string{"エンジニア", "レベル", "スキル"}) {
			out.TechAssumptionChanges = append(out.TechAssumptionChanges, Instruction{
				Action: "change_engineer_level", Description: "エンジニアレベルを変更する", Details: text,
			})
		}
	}

	if c.Has(CategoryPricing) {
		for _, req := range c.SpecificRequests {
			if req.Kind != RequestPrice {
				continue
			}
			out.PricingAdjustments = append(out.PricingAdjustments, Instruction{
				Action:      "adjust_price",
				TargetValue: req.Value,
				TargetUnit:  req.Unit,
				Description: fmt.Sprintf("価格を%s%sに調整", req.Value, req.Unit),
				Details:     text,
			})
		}
		if containsAny(text, []string{"安く", "下げる", "削減"}) {
			out.PricingAdjustments = append(out.PricingAdjustments, Instruction{
				Action: "reduce_price", Description: "価格を下げる", Details: text,
			})
		}
		if containsAny(text, []string{"高く", "上げる", "増額"}) {
			out.PricingAdjustments = append(out.PricingAdjustments, Instruction{
				Action: "increase_price", Description: "価格を上げる", Details: text,
			})
		}
	}

	return out
}
