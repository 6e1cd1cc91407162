package domain

import "time"

// OtpChallenge is the single live code for a target. Issuing a new code for
// the same target replaces this row (last-issued-wins).
type OtpChallenge struct {
	Target    string
	Code      string
	Channel   string
	Attempts  int
	Verified  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (c *OtpChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Code lengths per channel. SMS codes are short to survive flaky keypads,
// email codes get the extra digits.
const (
	SMSCodeLength   = 4
	EmailCodeLength = 6
)
