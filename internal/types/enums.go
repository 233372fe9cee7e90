package types

// PlanTier identifies the billing tier for a user account.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierBasic      PlanTier = "basic"
	TierPro        PlanTier = "pro"
	TierEnterprise PlanTier = "enterprise"
)

// SubscriptionStatus represents the state of a billing subscription.
type SubscriptionStatus string

const (
	SubStatusActive    SubscriptionStatus = "active"
	SubStatusCancelled SubscriptionStatus = "cancelled"
	SubStatusPastDue   SubscriptionStatus = "past_due"
	SubStatusTrialing  SubscriptionStatus = "trialing"
)

// BillingInterval defines the renewal cadence of a paid plan.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// SessionStatus represents the lifecycle state of a learning session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// TeachingStyle selects the conversational register of a companion.
type TeachingStyle string

const (
	StyleFormal TeachingStyle = "formal"
	StyleCasual TeachingStyle = "casual"
)

// VoiceGender selects the synthesized voice for a companion.
type VoiceGender string

const (
	VoiceMale   VoiceGender = "male"
	VoiceFemale VoiceGender = "female"
)

// Subjects supported by the companion builder. Kept as plain strings in the
// schema; this list backs request validation only.
var AllSubjects = []string{
	"maths",
	"language",
	"science",
	"history",
	"coding",
	"economics",
}

// UnlimitedLimit is the sentinel for "no cap" in plan limit tables.
const UnlimitedLimit = -1
