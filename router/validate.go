package router

import (
	"regexp"
	"strings"
	"time"
)

// Symbols are free-form instrument IDs; Chinese futures codes are
// lowercase (rb2310), index futures uppercase (IF2412).
var (
	accountPattern = regexp.MustCompile(`^[A-Za-z0-9_]{2,32}$`)
	symbolPattern  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,32}$`)
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

const (
	minPasswordLength = 6
	maxPasswordLength = 64
)

func validAccount(account string) bool {
	return accountPattern.MatchString(account)
}

func validPassword(password string) bool {
	n := len(password)
	return n >= minPasswordLength && n <= maxPasswordLength
}

func validSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

func validEmail(email string) bool {
	return len(email) <= 128 && emailPattern.MatchString(email)
}

// trigger times arrive either as RFC3339 or as a plain local timestamp
var triggerTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseTriggerTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range triggerTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
