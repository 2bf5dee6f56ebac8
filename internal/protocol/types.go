package protocol

const ProtocolVersion = 1

// Balance feed message types
const (
	TypeBalance = "balance"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"
)

// Error codes shared by the HTTP API and the balance feed.
const (
	ErrUnauthorized         = "UNAUTHORIZED"
	ErrInsufficientBones    = "INSUFFICIENT_BONES"
	ErrRewardAlreadyClaimed = "REWARD_ALREADY_CLAIMED"
	ErrValidation           = "VALIDATION_ERROR"
	ErrQuotaExceeded        = "QUOTA_EXCEEDED"
	ErrRateLimited          = "RATE_LIMITED"
	ErrNotFound             = "NOT_FOUND"
	ErrInvalidMessage       = "INVALID_MESSAGE"
	ErrInternal             = "INTERNAL_ERROR"
)

// Balance change reasons
const (
	ReasonConsume     = "consume"
	ReasonShareReward = "share_reward"
	ReasonSnapshot    = "snapshot"
)

// UnlimitedGenerations is the maxGenerations sentinel for registered users.
const UnlimitedGenerations = -1

type BalancePayload struct {
	Bones  int64  `json:"bones"`
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}
