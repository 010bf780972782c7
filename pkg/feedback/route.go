package feedback

// Target names the re-entry point a rejected estimate routes to. The graph
// wiring maps each target to a concrete stage.
type Target string

const (
	// TargetDeliverable re-enters at the deliverable analysis stage.
	TargetDeliverable Target = "deliverable_revision"

	// TargetEffort re-enters at the effort estimation stage.
	TargetEffort Target = "effort_revision"

	// TargetQuestion re-enters at the question generation stage.
	TargetQuestion Target = "question_revision"

	// TargetRestart re-enters at the input stage, redoing the whole run.
	TargetRestart Target = "complete_revision"
)

// Route maps a classification to its re-entry target using a fixed
// priority order: deliverable changes win over effort adjustments, which
// win over tech changes; pricing adjustments re-enter at the effort stage
// because pricing is derived from effort. An empty classification falls
// back to a full restart. The order is a contract: it decides which
// concern silently wins when one message triggers several categories.
func Route(c Classification) Target {
	switch {
	case c.Has(CategoryDeliverable):
		return TargetDeliverable
	case c.Has(CategoryEffort):
		return TargetEffort
	case c.Has(CategoryTech):
		return TargetQuestion
	case c.Has(CategoryPricing):
		return TargetEffort
	default:
		return TargetRestart
	}
}
