package latex

import (
	"regexp"
	"strings"
)

var (
	fracPattern  = regexp.MustCompile(`\\d?frac\{([^{}]*)\}\{([^{}]*)\}`)
	sqrtPattern  = regexp.MustCompile(`\\sqrt\{([^{}]*)\}`)
	commandPattern = regexp.MustCompile(`\\[a-zA-Z]+`)
)

// plainTextApproximation converts a LaTeX expression into a rough
// plain-text rendering suitable for handwriting synthesis when the real
// renderer is unavailable: \frac{a}{b} becomes "(a)/(b)", \sqrt{x} becomes
// "sqrt(x)", remaining backslash commands are stripped, and braces become
// parentheses.
func plainTextApproximation(latexSrc string) string {
	s := fracPattern.ReplaceAllString(latexSrc, "($1)/($2)")
	s = sqrtPattern.ReplaceAllString(s, "sqrt($1)")
	s = commandPattern.ReplaceAllString(s, "")
	s = strings.NewReplacer("{", "(", "}", ")").Replace(s)
	return strings.TrimSpace(s)
}
