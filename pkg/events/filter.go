package events

import (
	"strings"

	"github.com/0xmhha/chainfetch/pkg/types"
)

// Filter restricts which progress updates a subscription receives.
// Empty fields match everything; a nil *Filter matches everything.
type Filter struct {
	// Chains matches Progress.Chain exactly
	Chains []string

	// Contracts matches Progress.Contract, case-insensitively
	Contracts []string

	// RequestID matches a single fetch session
	RequestID string

	// Steps matches Progress.Step (events, transactions, scan, range, complete)
	Steps []string
}

// Match reports whether p passes the filter
func (f *Filter) Match(p types.Progress) bool {
	if f == nil {
		return true
	}
	if f.RequestID != "" && f.RequestID != p.RequestID {
		return false
	}
	if len(f.Chains) > 0 && !contains(f.Chains, p.Chain, false) {
		return false
	}
	if len(f.Contracts) > 0 && !contains(f.Contracts, p.Contract, true) {
		return false
	}
	if len(f.Steps) > 0 && !contains(f.Steps, p.Step, false) {
		return false
	}
	return true
}

// Clone returns a deep copy
func (f *Filter) Clone() *Filter {
	if f == nil {
		return nil
	}
	return &Filter{
		Chains:    append([]string(nil), f.Chains...),
		Contracts: append([]string(nil), f.Contracts...),
		RequestID: f.RequestID,
		Steps:     append([]string(nil), f.Steps...),
	}
}

func contains(list []string, v string, fold bool) bool {
	for _, s := range list {
		if s == v || (fold && strings.EqualFold(s, v)) {
			return true
		}
	}
	return false
}
