package shared

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY ERRORS
// Typed failures of the progression engine. Every failure carries the exact
// threshold and shortfall figures so callers can show "why" without redoing
// the math.
// ══════════════════════════════════════════════════════════════════════════════

// PolicyCode identifies a distinct failure mode.
type PolicyCode string

const (
	CodeNoActiveSubscription     PolicyCode = "NO_ACTIVE_SUBSCRIPTION"
	CodeCurriculumNotFound       PolicyCode = "CURRICULUM_NOT_FOUND"
	CodeGroupNotFound            PolicyCode = "GROUP_NOT_FOUND"
	CodeAlreadyAtFinalLevel      PolicyCode = "ALREADY_AT_FINAL_LEVEL"
	CodeAlreadyAtFirstLevel      PolicyCode = "ALREADY_AT_FIRST_LEVEL"
	CodeInsufficientProgress     PolicyCode = "INSUFFICIENT_PROGRESS"
	CodeInsufficientCredit       PolicyCode = "INSUFFICIENT_CREDIT"
	CodeApprovalRequired         PolicyCode = "APPROVAL_REQUIRED"
	CodeConfirmationRequired     PolicyCode = "CONFIRMATION_REQUIRED"
	CodeGroupMajorityNotPromoted PolicyCode = "GROUP_MAJORITY_NOT_PROMOTED"
	CodeIdempotencyConflict      PolicyCode = "IDEMPOTENCY_CONFLICT"
	CodeLevelMismatch            PolicyCode = "LEVEL_MISMATCH"
)

// Category is the error taxonomy bucket of a PolicyError.
type Category string

const (
	// CategoryValidation - referenced entity does not exist. Never retried.
	CategoryValidation Category = "validation"
	// CategoryPolicy - a business rule was not met.
	CategoryPolicy Category = "policy"
	// CategoryConcurrency - a conflicting operation won the race. Retriable.
	CategoryConcurrency Category = "concurrency"
	// CategoryPartialGroup - some group members are not ready; needs confirmation.
	CategoryPartialGroup Category = "partial_group"
	// CategoryConflict - the request contradicts an earlier request with the same token.
	CategoryConflict Category = "conflict"
)

// PolicyError is a typed engine failure with its numeric context.
type PolicyError struct {
	Code     PolicyCode
	Category Category
	Message  string

	// Required is the threshold (percentage or days) the rule demanded.
	Required *float64
	// Actual is the measured value (progress percentage).
	Actual *float64
	// Available is the balance that was on hand (credit days).
	Available *float64

	// Details carries extra machine-readable context (e.g. a readiness partition).
	Details any
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	switch {
	case e.Required != nil && e.Actual != nil:
		return fmt.Sprintf("%s: %s (required %.2f, actual %.2f)", e.Code, e.Message, *e.Required, *e.Actual)
	case e.Required != nil && e.Available != nil:
		return fmt.Sprintf("%s: %s (required %.0f, available %.0f)", e.Code, e.Message, *e.Required, *e.Available)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Is maps the category onto the base sentinel errors.
func (e *PolicyError) Is(target error) bool {
	switch target {
	case ErrPolicyViolation:
		return e.Category == CategoryPolicy || e.Category == CategoryPartialGroup
	case ErrValidation, ErrNotFound:
		return e.Category == CategoryValidation
	case ErrConcurrentModification:
		return e.Category == CategoryConcurrency
	case ErrIdempotencyConflict:
		return e.Code == CodeIdempotencyConflict
	}
	return false
}

// AsPolicyError extracts a *PolicyError from an error chain.
func AsPolicyError(err error) (*PolicyError, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HasCode reports whether err is a PolicyError with the given code.
func HasCode(err error, code PolicyCode) bool {
	pe, ok := AsPolicyError(err)
	return ok && pe.Code == code
}

func f64(v float64) *float64 { return &v }

// NoActiveSubscription is returned when the (student, curriculum) pair has no active subscription.
func NoActiveSubscription(studentID, curriculumID string) *PolicyError {
	return &PolicyError{
		Code:     CodeNoActiveSubscription,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("student %s has no active subscription to curriculum %s", studentID, curriculumID),
	}
}

// CurriculumNotFound is returned when the curriculum or its levels are missing.
func CurriculumNotFound(curriculumID string) *PolicyError {
	return &PolicyError{
		Code:     CodeCurriculumNotFound,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("curriculum %s not found or has no levels", curriculumID),
	}
}

// GroupNotFound is returned when the group does not exist.
func GroupNotFound(groupID string) *PolicyError {
	return &PolicyError{
		Code:     CodeGroupNotFound,
		Category: CategoryValidation,
		Message:  fmt.Sprintf("group %s not found", groupID),
	}
}

// AlreadyAtFinalLevel is returned when there is no next level.
func AlreadyAtFinalLevel(level int) *PolicyError {
	return &PolicyError{
		Code:     CodeAlreadyAtFinalLevel,
		Category: CategoryPolicy,
		Message:  fmt.Sprintf("level %d is the final level", level),
	}
}

// AlreadyAtFirstLevel is returned when demotion is impossible.
func AlreadyAtFirstLevel() *PolicyError {
	return &PolicyError{
		Code:     CodeAlreadyAtFirstLevel,
		Category: CategoryPolicy,
		Message:  "already at the first level",
	}
}

// InsufficientProgress is returned when level completion is below the minimum rate.
func InsufficientProgress(required, actual float64) *PolicyError {
	return &PolicyError{
		Code:     CodeInsufficientProgress,
		Category: CategoryPolicy,
		Message:  "level completion is below the minimum rate",
		Required: f64(required),
		Actual:   f64(actual),
	}
}

// InsufficientCredit is returned when the access-credit balance does not cover the next level.
func InsufficientCredit(required, available int) *PolicyError {
	return &PolicyError{
		Code:      CodeInsufficientCredit,
		Category:  CategoryPolicy,
		Message:   "access credit does not cover the next level",
		Required:  f64(float64(required)),
		Available: f64(float64(available)),
	}
}

// ApprovalRequired is returned when the curriculum requires an approver and none was given.
func ApprovalRequired() *PolicyError {
	return &PolicyError{
		Code:     CodeApprovalRequired,
		Category: CategoryPolicy,
		Message:  "promotion in this curriculum requires administrator approval",
	}
}

// ConfirmationRequired is returned when a group commit would skip students who are not ready.
func ConfirmationRequired(notReady int, details any) *PolicyError {
	return &PolicyError{
		Code:     CodeConfirmationRequired,
		Category: CategoryPartialGroup,
		Message:  fmt.Sprintf("%d students are not ready; choose the subset to promote explicitly", notReady),
		Details:  details,
	}
}

// GroupMajorityNotPromoted is returned when advancing the group pointer would leave
// most members behind it.
func GroupMajorityNotPromoted(required, actual int) *PolicyError {
	return &PolicyError{
		Code:     CodeGroupMajorityNotPromoted,
		Category: CategoryPolicy,
		Message:  "most group members have not reached the next level",
		Required: f64(float64(required)),
		Actual:   f64(float64(actual)),
	}
}

// IdempotencyConflict is returned when a commit token is reused with different input.
func IdempotencyConflict(token string) *PolicyError {
	return &PolicyError{
		Code:     CodeIdempotencyConflict,
		Category: CategoryConflict,
		Message:  fmt.Sprintf("token %s was already used with different input", token),
	}
}

// LevelMismatch is returned when a subscription is no longer at the level the
// caller planned to promote it from.
func LevelMismatch(expected, actual int) *PolicyError {
	return &PolicyError{
		Code:     CodeLevelMismatch,
		Category: CategoryPolicy,
		Message:  fmt.Sprintf("subscription is at level %d, expected level %d", actual, expected),
		Required: f64(float64(expected)),
		Actual:   f64(float64(actual)),
	}
}
