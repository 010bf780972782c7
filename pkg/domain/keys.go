package domain

// Well-known state field keys. Stages own the estimation fields; the keys
// under the "tally." prefix are reserved for the engine itself.
const (
	// KeySessionID identifies the session the state belongs to.
	KeySessionID = "session_id"

	// KeyApproved is the human approval decision collected after the
	// report stage. Absent until the first approval round.
	KeyApproved = "approved"

	// KeyUserFeedback is the free-form rejection text. Opaque to the core
	// until the feedback classifier runs.
	KeyUserFeedback = "user_feedback"

	// KeyIterationCount counts completed revision rounds.
	KeyIterationCount = "iteration_count"

	// KeyError holds the human-readable reason a session stopped. Once
	// set, no downstream stage executes.
	KeyError = "error"

	// KeyErrorKind holds the machine-checkable failure kind for KeyError.
	KeyErrorKind = "error_kind"

	// KeyFeedbackAnalysis holds the feedback.Classification record.
	KeyFeedbackAnalysis = "feedback_analysis"

	// KeyRevisionInstructions holds the feedback.Instructions record.
	KeyRevisionInstructions = "revision_instructions"

	// KeyAnswers holds the question-id to value mapping supplied on
	// resume of the Q&A suspension point.
	KeyAnswers = "answers"

	// KeyFinalOutput is the artifact reference written by the output
	// collaborator after approval.
	KeyFinalOutput = "final_output"
)

// Engine-owned bookkeeping keys. They live in the same state map so a
// session is fully reconstructible from its latest checkpoint alone.
const (
	// KeyStatus is the engine status at checkpoint time.
	KeyStatus = "tally.status"

	// KeyNextStage is the stage the engine will execute next. When
	// KeyStatus is awaiting_input this is the suspended input stage.
	KeyNextStage = "tally.next_stage"
)
