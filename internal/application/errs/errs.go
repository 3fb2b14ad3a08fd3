package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Reason drives the webhook's HTTP response: validation failures are
// permanent, Stripe must not retry them; server failures are presumed
// transient and answered with 500 so Stripe retries with backoff.
type Reason string

const (
	ReasonValidation Reason = "validation"
	ReasonServer     Reason = "server"
)

type InvalidSignatureError struct {
	Err error
}

func (t InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid webhook signature: %v", t.Err)
}

// ValidationError marks a permanent business-rule failure at the
// fulfillment boundary.
type ValidationError struct {
	Err error
}

func (t ValidationError) Error() string {
	return t.Err.Error()
}

func (t ValidationError) Unwrap() error {
	return t.Err
}

type RetryableError struct {
	Err error
}

func (t RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", t.Err)
}

func (t RetryableError) Unwrap() error {
	return t.Err
}

// ComplianceIssue is one statutory-timing problem, kept structured so the
// dashboard can render it to the user.
type ComplianceIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ComplianceBlockError is raised when notice timing rules are not met.
// It is a validation failure that additionally carries a structured
// issue list for user-facing display.
type ComplianceBlockError struct {
	Issues []ComplianceIssue
}

func (t ComplianceBlockError) Error() string {
	parts := make([]string, 0, len(t.Issues))
	for _, issue := range t.Issues {
		parts = append(parts, issue.Message)
	}
	return "COMPLIANCE_TIMING_BLOCK: " + strings.Join(parts, "; ")
}

// validationMarkers is the closed list of message fragments that identify
// business-rule failures coming from collaborators that don't use the
// typed errors above.
var validationMarkers = []string{
	"Order not found",
	"Case not found",
	"Unsupported product type",
	"Missing required field",
	"not eligible",
	"NOTICE_ONLY_VALIDATION_FAILED",
	"MONEY_CLAIM_VALIDATION_FAILED",
	"COMPLIANCE_TIMING_BLOCK",
}

// Classify maps an error to the retry policy it deserves. Typed variants
// win; untagged errors fall back to marker matching; anything unknown is
// treated as a server fault.
func Classify(err error) Reason {
	if err == nil {
		return ReasonServer
	}
	var validation ValidationError
	if errors.As(err, &validation) {
		return ReasonValidation
	}
	var compliance ComplianceBlockError
	if errors.As(err, &compliance) {
		return ReasonValidation
	}
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return ReasonServer
	}
	msg := err.Error()
	for _, marker := range validationMarkers {
		if strings.Contains(msg, marker) {
			return ReasonValidation
		}
	}
	return ReasonServer
}
