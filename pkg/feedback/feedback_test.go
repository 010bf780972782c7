package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_EffortOnly(t *testing.T) {
	c := Classify("工数を追加してください")

	// "追加" alone does not read as a deliverable change.
	assert.Equal(t, []Category{CategoryEffort}, c.Categories)
	assert.Equal(t, UrgencyLow, c.Urgency)
}

func TestClassify_SingleCategory(t *testing.T) {
	c := Classify("日数を短縮してください")
	assert.Equal(t, []Category{CategoryEffort}, c.Categories)
}

func TestClassify_MultipleCategories(t *testing.T) {
	c := Classify("成果物を追加し、工数も増やして")
	assert.True(t, c.Has(CategoryDeliverable))
	assert.True(t, c.Has(CategoryEffort))
}

func TestClassify_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		c := Classify(text)
		assert.True(t, c.Empty())
		assert.Empty(t, c.SpecificRequests)
		assert.Equal(t, UrgencyLow, c.Urgency)
	}
}

func TestClassify_NoKeywordMatch(t *testing.T) {
	c := Classify("全体的に見直してほしい")
	assert.True(t, c.Empty())
}

func TestClassify_SpecificRequests(t *testing.T) {
	c := Classify("工数を10人日に、価格を50万円にしてください")

	assert.Contains(t, c.SpecificRequests, SpecificRequest{Kind: RequestEffort, Value: "10", Unit: "人日"})
	assert.Contains(t, c.SpecificRequests, SpecificRequest{Kind: RequestPrice, Value: "50", Unit: "万円"})
}

func TestClassify_RatioRequest(t *testing.T) {
	c := Classify("コストを20%削減してください")
	assert.Contains(t, c.SpecificRequests, SpecificRequest{Kind: RequestRatio, Value: "20", Unit: "%"})
	assert.True(t, c.Has(CategoryPricing))
}

func TestClassify_Urgency(t *testing.T) {
	assert.Equal(t, UrgencyHigh, Classify("至急、工数を見直して").Urgency)
	assert.Equal(t, UrgencyMedium, Classify("できるだけ早く工数を見直して").Urgency)
	assert.Equal(t, UrgencyLow, Classify("工数を見直して").Urgency)
}

func TestClassify_Deterministic(t *testing.T) {
	text := "成果物を追加し、技術スタックを変更、価格も安くして、工数を10人日に"
	first := Classify(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Classify(text))
	}
}

func TestRoute_PriorityOrder(t *testing.T) {
	cases := []struct {
		name     string
		feedback string
		want     Target
	}{
		{"effort keyword", "工数を追加してください", TargetEffort},
		{"deliverable wins over effort", "成果物を追加し、工数も増やして", TargetDeliverable},
		{"tech routes to question revision", "データベースを変える", TargetQuestion},
		{"pricing reenters at effort", "もっと安くしてほしい", TargetEffort},
		{"effort wins over tech", "期間を短縮して、言語も変えて", TargetEffort},
		{"no category restarts", "ぜんぶやり直して", TargetRestart},
		{"empty restarts", "", TargetRestart},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Route(Classify(tc.feedback)))
		})
	}
}

func TestRoute_DeliverableAlwaysWins(t *testing.T) {
	// Any combination containing deliverable changes must resolve to the
	// deliverable target.
	texts := []string{
		"成果物と工数",
		"項目と技術",
		"アイテムと価格",
		"成果物、工数、技術、価格、前提ぜんぶ",
	}
	for _, text := range texts {
		c := Classify(text)
		assert.True(t, c.Has(CategoryDeliverable), text)
		assert.Equal(t, TargetDeliverable, Route(c), text)
	}
}

func TestGenerateInstructions(t *testing.T) {
	c := Classify("成果物を追加し、工数を10人日に調整、価格を安くして")
	instr := GenerateInstructions(c)

	if assert.Len(t, instr.DeliverableChanges, 1) {
		assert.Equal(t, "add", instr.DeliverableChanges[0].Action)
	}

	actions := make([]string, 0, len(instr.EffortAdjustments))
	for _, in := range instr.EffortAdjustments {
		actions = append(actions, in.Action)
	}
	assert.Contains(t, actions, "adjust_effort")
	// "追加" also reads as an abstract effort increase.
	assert.Contains(t, actions, "increase_effort")

	if assert.NotEmpty(t, instr.PricingAdjustments) {
		assert.Equal(t, "reduce_price", instr.PricingAdjustments[0].Action)
	}
}

func TestGenerateInstructions_OnlyDetectedCategories(t *testing.T) {
	instr := GenerateInstructions(Classify("日数を短縮してください"))
	assert.Empty(t, instr.DeliverableChanges)
	assert.NotEmpty(t, instr.EffortAdjustments)
	assert.Empty(t, instr.TechAssumptionChanges)
	assert.Empty(t, instr.PricingAdjustments)
}
