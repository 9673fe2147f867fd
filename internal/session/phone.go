package session

import "strings"

// userSuffix is the routing suffix for individual accounts.
const userSuffix = "@c.us"

// NormalizePhone turns a phone number into a routing id. Values already
// containing '@' are returned unchanged. Otherwise formatting characters and
// a leading '+' are stripped and "@c.us" is appended. It returns "" when no
// number is left.
func NormalizePhone(phone string) string {
	if strings.Contains(phone, "@") {
		return phone
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(phone) {
		switch r {
		case '+', ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + userSuffix
}
