// Package fold holds the policy shared by the tree and regex paths for call
// sites that cannot be decrypted.
package fold

import (
	"fmt"
	"strings"
)

// Policy decides what happens when one call site cannot be evaluated.
type Policy int

const (
	// Skip logs the failure and leaves the call in place.
	Skip Policy = iota
	// FailFast aborts on the first failing site.
	FailFast
)

func (p Policy) String() string {
	if p == FailFast {
		return "fail-fast"
	}
	return "skip"
}

// Parse accepts "skip" and "fail-fast".
func Parse(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return Skip, nil
	case "fail-fast", "failfast", "fail_fast":
		return FailFast, nil
	default:
		return Skip, fmt.Errorf("unknown fold policy %q", s)
	}
}
