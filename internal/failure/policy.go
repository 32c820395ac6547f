package failure

import (
	"errors"
	"strings"

	"github.com/aws/smithy-go"
)

// ExplicitDenyPhrase is the reason text AWS appends when a resource-based
// policy explicitly denies the request.
const ExplicitDenyPhrase = "with an explicit deny in a resource-based policy"

// Rule matches an AWS API error by code and, optionally, by a phrase in its message.
type Rule struct {
	// Codes are the error codes the rule applies to.
	Codes []string

	// Reason must appear in the error message (case-insensitive). Empty matches any message.
	Reason string
}

// Match reports whether an error with the given code and message satisfies the rule.
func (r Rule) Match(code, message string) bool {
	codeMatched := false
	for _, c := range r.Codes {
		if c == code {
			codeMatched = true
			break
		}
	}
	if !codeMatched {
		return false
	}
	if r.Reason == "" {
		return true
	}
	return strings.Contains(strings.ToLower(message), strings.ToLower(r.Reason))
}

// Class is the result of classifying an error.
type Class int

const (
	// ClassTransient failures are retried through redelivery.
	ClassTransient Class = iota
	// ClassTerminal failures are not retried.
	ClassTerminal
	// ClassSuppress failures are expected and treated as success.
	ClassSuppress
)

// String returns the class name used in logs and metrics.
func (c Class) String() string {
	switch c {
	case ClassTerminal:
		return "terminal"
	case ClassSuppress:
		return "suppressed"
	default:
		return "transient"
	}
}

// Policy classifies errors. Suppress rules are checked before terminal rules;
// anything unmatched is transient.
type Policy struct {
	Suppress []Rule
	Terminal []Rule
}

// Classify classifies an error returned by an AWS client.
func (p Policy) Classify(err error) Class {
	code, message, ok := APIErrorParts(err)
	if !ok {
		return ClassTransient
	}
	return p.ClassifyCode(code, message)
}

// ClassifyCode classifies an error code and message pair, such as a failed
// PutEvents entry.
func (p Policy) ClassifyCode(code, message string) Class {
	for _, r := range p.Suppress {
		if r.Match(code, message) {
			return ClassSuppress
		}
	}
	for _, r := range p.Terminal {
		if r.Match(code, message) {
			return ClassTerminal
		}
	}
	return ClassTransient
}

// APIErrorParts extracts the service error code and message from err.
func APIErrorParts(err error) (code, message string, ok bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "", "", false
	}
	return apiErr.ErrorCode(), apiErr.ErrorMessage(), true
}

// ExplicitResourcePolicyDeny matches an access denial caused by an explicit
// deny in the target's resource-based policy.
var ExplicitResourcePolicyDeny = Rule{
	Codes:  []string{"AccessDeniedException", "AccessDenied"},
	Reason: ExplicitDenyPhrase,
}

// FederationPolicy classifies sts:AssumeRoleWithWebIdentity failures. Only a
// trust policy denial is terminal; expired or invalid tokens may be clock skew.
var FederationPolicy = Policy{
	Suppress: []Rule{ExplicitResourcePolicyDeny},
	Terminal: []Rule{
		{Codes: []string{"AccessDenied", "AccessDeniedException"}},
	},
}

// ForwardPolicy classifies events:PutEvents failures.
var ForwardPolicy = Policy{
	Suppress: []Rule{ExplicitResourcePolicyDeny},
	Terminal: []Rule{
		{Codes: []string{
			"AccessDeniedException",
			"ValidationException",
			"ResourceNotFoundException",
			"UnrecognizedClientException",
			"InvalidSignatureException",
			"IncompleteSignature",
			"MissingAuthenticationTokenException",
			"NotAuthorizedException",
		}},
	},
}
