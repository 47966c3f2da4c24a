package models

import (
	"fmt"
	"unicode/utf8"
)

// maxGroupNameLen bounds group names as persisted.
const maxGroupNameLen = 8

// Group is a user-defined named subset of tracked funds. Codes keep their
// manual ordering; duplicates are tolerated here and collapsed by
// canonicalization at comparison time.
type Group struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Codes []FundCode `json:"codes"`
}

// Validate checks the persistence invariants: non-empty id, non-empty name
// of at most 8 characters.
func (g Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("group id is required")
	}
	if g.Name == "" {
		return fmt.Errorf("group name is required")
	}
	if utf8.RuneCountInString(g.Name) > maxGroupNameLen {
		return fmt.Errorf("group name '%s' exceeds %d characters", g.Name, maxGroupNameLen)
	}
	return nil
}

// Contains reports whether the group references the fund code.
func (g Group) Contains(code FundCode) bool {
	for _, c := range g.Codes {
		if c == code {
			return true
		}
	}
	return false
}
