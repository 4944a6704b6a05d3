// Package email finds a reset-request address in free text. Spelled-out
// forms such as "jane at example dot com" are not recognised.
package email

import (
	"regexp"
	"strings"
)

const maxAddressLength = 254

// wrapping is stripped from both ends of a candidate: sentence punctuation,
// quotes, brackets and markdown emphasis.
const wrapping = ".'\"!?,;:*_~{}()[]<>|`"

var (
	candidate = regexp.MustCompile(`[A-Za-z0-9.!#$%&'*+/=?^_{|}~-]+@[A-Za-z0-9.-]+`)
	localPart = regexp.MustCompile(`^[A-Za-z0-9!#$%&'*+/=?^_{|}~-]+(\.[A-Za-z0-9!#$%&'*+/=?^_{|}~-]+)*$`)
	label     = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?$`)
	tld       = regexp.MustCompile(`^[A-Za-z]{2,63}$`)
)

// Detect returns the first syntactically valid address in text, lowercased.
func Detect(text string) (string, bool) {
	for _, token := range candidate.FindAllString(text, -1) {
		addr := strings.Trim(token, wrapping)
		if Valid(addr) {
			return strings.ToLower(addr), true
		}
	}
	return "", false
}

// Valid reports whether addr has a standard local-part and domain shape.
func Valid(addr string) bool {
	if len(addr) > maxAddressLength {
		return false
	}

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 || strings.Count(addr, "@") != 1 {
		return false
	}

	local, domain := addr[:at], addr[at+1:]
	if len(local) > 64 || !localPart.MatchString(local) {
		return false
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if len(l) > 63 || !label.MatchString(l) {
			return false
		}
	}

	return tld.MatchString(labels[len(labels)-1])
}
