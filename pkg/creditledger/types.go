package creditledger

import "time"

// OperationKind identifies a metered operation with a fixed credit cost
type OperationKind string

const (
	// OpInterviewAnalysis is the analysis of a recorded interview
	OpInterviewAnalysis OperationKind = "interview_analysis"
	// OpAudioTranscription is the transcription of an audio recording
	OpAudioTranscription OperationKind = "audio_transcription"
	// OpSuggestionGeneration is the generation of answer suggestions
	OpSuggestionGeneration OperationKind = "suggestion_generation"
	// OpJobPostingParsing is the structured parsing of a job posting
	OpJobPostingParsing OperationKind = "job_posting_parsing"
	// OpResumeParsing is the structured parsing of a resume
	OpResumeParsing OperationKind = "resume_parsing"
	// OpEmailParsing is the structured parsing of an email
	OpEmailParsing OperationKind = "email_parsing"
)

// Account is one ledger row: the spendable credit balance for an identity
// plus its rolling daily and monthly usage counters.
type Account struct {
	AccountID        string
	Balance          int
	DailyUsed        int
	MonthlyUsed      int
	LastDailyReset   time.Time
	LastMonthlyReset time.Time
	UpdatedAt        time.Time
}

// DenyReason explains why a check or spend was refused.
type DenyReason string

const (
	// ReasonInsufficientBalance means the balance cannot cover the cost.
	// A spend that lost a concurrent race is reported with this reason too.
	ReasonInsufficientBalance DenyReason = "insufficient_balance"
	// ReasonDailyLimitReached means the spend would exceed the daily cap
	ReasonDailyLimitReached DenyReason = "daily_limit_reached"
	// ReasonMonthlyLimitReached means the spend would exceed the monthly cap
	ReasonMonthlyLimitReached DenyReason = "monthly_limit_reached"
)

// Decision is the advisory result of a quota check. It carries the account
// state observed at check time; a concurrent spend may invalidate it before
// the matching Spend executes.
type Decision struct {
	// Allowed reports whether the spend is currently permitted
	Allowed bool

	// Reason is set when Allowed is false
	Reason DenyReason

	// Balance is the spendable balance at check time
	Balance int

	// DailyUsed and MonthlyUsed are the usage counters after any window reset
	DailyUsed   int
	MonthlyUsed int

	// DailyRemaining and MonthlyRemaining are the headroom left in each
	// window. For an allowed decision they already account for the checked
	// operation's cost.
	DailyRemaining   int
	MonthlyRemaining int
}

// SpendResult reports the outcome of a deduction.
type SpendResult struct {
	// Success reports whether the credits were durably deducted
	Success bool

	// Reason is set when Success is false
	Reason DenyReason

	// Balance is the balance after the spend, or the current balance when
	// the spend was denied
	Balance int
}

// Status is the self-service view of an account.
type Status struct {
	Balance          int
	DailyUsed        int
	MonthlyUsed      int
	DailyRemaining   int
	MonthlyRemaining int
	DailyLimit       int
	MonthlyLimit     int
}

// RankedAccount pairs an account with its status for balance ranking.
type RankedAccount struct {
	AccountID string
	Status
}

// Config holds ledger configuration
type Config struct {
	// Costs maps operation kinds to their credit cost (default: DefaultCosts())
	Costs map[OperationKind]int

	// DailyLimit caps credits spent per calendar day (default: DefaultDailyLimit)
	DailyLimit int

	// MonthlyLimit caps credits spent per calendar month (default: DefaultMonthlyLimit)
	MonthlyLimit int

	// SignupBonus is the balance an account row is created with
	// (default: DefaultSignupBonus)
	SignupBonus int

	// Location is the reference time zone for calendar window boundaries
	// (default: time.Local). Accounts in other time zones observe their
	// resets at this location's midnight.
	Location *time.Location

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking ledger operations (default: NoopMetrics)
	Metrics Metrics
}
