package councilnode

import (
	statex "github.com/tanpawarit/Counsel-Expert-Council-Engine/expert/state"
)

// SynthesisUserPrompt renders the user message for the synthesis model call
// from the full board, all rounds included.
func SynthesisUserPrompt(board *statex.Board) string {
	return "## Expert Council Findings\n\n" + board.FormatForSynthesis() +
		"\n\nSynthesize these findings into a structured decision document."
}

// FinalGaps merges the last verdict's gaps with entries for conflicts that
// outlived the delta budget. The verdict's own gaps come first.
func FinalGaps(state *CouncilState) []string {
	gaps := append([]string(nil), state.Verdict.Gaps...)
	return append(gaps, UnresolvedConflictGaps(state.Verdict, state.Round)...)
}
