package stage

import "interview-agent/internal/domain"

// Forced-transition messages, keyed by what comes next.
const (
	MsgMoveToQuestions = "Let's move to the questions."
	MsgNextQuestion    = "Let's move to the next question."
	MsgConclude        = "Let's conclude the interview."
	MsgFarewell        = "Thank you for your time and goodbye."
	MsgFallback        = "Let's move on to the next part."
)

// TransitionMessage picks the message spoken when a stage is cut short by its
// time limit. index is the stage position and total the number of stages.
func TransitionMessage(st domain.Stage, index, total int) string {
	switch st.Type {
	case domain.StageIntroduction:
		return MsgMoveToQuestions
	case domain.StageQuestion:
		if index == total-2 {
			return MsgConclude
		}
		return MsgNextQuestion
	case domain.StageConclusion:
		return MsgFarewell
	default:
		return MsgFallback
	}
}
