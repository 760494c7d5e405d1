package creditledger

// Default limits and signup allowance, overridable via Config.
const (
	// DefaultDailyLimit is the maximum credits spendable per calendar day
	DefaultDailyLimit = 200

	// DefaultMonthlyLimit is the maximum credits spendable per calendar month
	DefaultMonthlyLimit = 2000

	// DefaultSignupBonus is the balance a new account is created with
	DefaultSignupBonus = 100
)

// DefaultCosts returns the standard per-operation credit cost table.
func DefaultCosts() map[OperationKind]int {
	return map[OperationKind]int{
		OpInterviewAnalysis:    10,
		OpAudioTranscription:   5,
		OpSuggestionGeneration: 3,
		OpJobPostingParsing:    2,
		OpResumeParsing:        2,
		OpEmailParsing:         1,
	}
}
