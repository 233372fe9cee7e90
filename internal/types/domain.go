package types

import "time"

// User is a platform account, provisioned lazily on first authenticated
// request. Identity itself lives with the external auth provider; the local
// row anchors ownership and usage counting.
type User struct {
	ID          string      `json:"id" db:"id"`
	ClerkID     string      `json:"clerk_id" db:"clerk_id"`
	Email       string      `json:"email" db:"email"`
	Name        string      `json:"name" db:"name"`
	ImageURL    *string     `json:"image_url,omitempty" db:"image_url"`
	Preferences Preferences `json:"preferences" db:"preferences"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Preferences holds per-user UI and tutoring defaults, stored as JSONB.
type Preferences struct {
	DefaultSubject string `json:"default_subject,omitempty"`
	DefaultStyle   string `json:"default_style,omitempty"`
	DefaultVoice   string `json:"default_voice,omitempty"`
	EmailUpdates   bool   `json:"email_updates"`
}

// Companion is an AI tutor profile authored by a user.
type Companion struct {
	ID       string        `json:"id" db:"id"`
	AuthorID string        `json:"author_id" db:"author_id"`
	Name     string        `json:"name" db:"name"`
	Subject  string        `json:"subject" db:"subject"`
	Topic    string        `json:"topic" db:"topic"`
	Style    TeachingStyle `json:"style" db:"style"`
	Voice    VoiceGender   `json:"voice" db:"voice"`

	// Duration is the target session length in minutes.
	Duration int `json:"duration" db:"duration"`

	// AssistantID references the voice vendor's assistant, when provisioned.
	AssistantID *string `json:"-" db:"assistant_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LearningSession is one voice tutoring conversation between a user and
// a companion.
type LearningSession struct {
	ID          string        `json:"id" db:"id"`
	UserID      string        `json:"user_id" db:"user_id"`
	CompanionID string        `json:"companion_id" db:"companion_id"`
	Status      SessionStatus `json:"status" db:"status"`

	// CallID references the voice vendor's call, when one was placed.
	CallID *string `json:"-" db:"call_id"`

	Transcript   *string    `json:"transcript,omitempty" db:"transcript"`
	DurationSecs *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`
	Rating       *int       `json:"rating,omitempty" db:"rating"`
	Feedback     *string    `json:"feedback,omitempty" db:"feedback"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Subscription is the locally persisted view of a user's billing state.
// The billing provider remains the source of truth; webhook ingestion and
// explicit refresh keep this row converged.
type Subscription struct {
	ID                 string             `json:"id" db:"id"`
	UserID             string             `json:"user_id" db:"user_id"`
	PlanID             string             `json:"plan_id" db:"plan_id"`
	Tier               PlanTier           `json:"tier" db:"tier"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" db:"cancel_at_period_end"`

	ClerkCustomerID     *string `json:"-" db:"clerk_customer_id"`
	ClerkSubscriptionID *string `json:"-" db:"clerk_subscription_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the subscription currently grants its tier:
// status active and the paid period not yet elapsed.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == SubStatusActive && now.Before(s.CurrentPeriodEnd)
}

// UsageSnapshot reports current consumption against plan limits.
type UsageSnapshot struct {
	Tier              PlanTier `json:"tier"`
	CompanionsUsed    int      `json:"companions_used"`
	CompanionLimit    int      `json:"companion_limit"`
	SessionsThisMonth int      `json:"sessions_this_month"`
	SessionLimit      int      `json:"session_limit"`
}

// LimitCheck is the outcome of evaluating one resource against its cap.
type LimitCheck struct {
	Allowed       bool     `json:"allowed"`
	Used          int      `json:"used"`
	Limit         int      `json:"limit"` // -1 means unlimited
	UpgradeTier   PlanTier `json:"upgrade_tier,omitempty"`
	UpgradePrompt string   `json:"upgrade_prompt,omitempty"`
}

// CompanionStats counts the companion catalog as seen by one user.
type CompanionStats struct {
	TotalCompanions int `json:"total_companions"`
	UserCompanions  int `json:"user_companions"`
}

// SessionStats aggregates a user's tutoring history.
type SessionStats struct {
	TotalSessions     int     `json:"total_sessions"`
	CompletedSessions int     `json:"completed_sessions"`
	TotalMinutes      int     `json:"total_minutes"`
	AverageRating     float64 `json:"average_rating"`
}
