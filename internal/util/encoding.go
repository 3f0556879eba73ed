package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeInput folds compatibility characters (full-width digits and
// letters pasted from some browsers) and trims surrounding whitespace.
func NormalizeInput(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
