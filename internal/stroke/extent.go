package stroke

import "strings"

// textLineHeightPx is the vertical extent of one line of synthesized
// handwriting text: a 16px cap height plus interline margin.
const textLineHeightPx = 16 + 10

// latexComplexityWeight scores a LaTeX source string's structural
// complexity so the latex subpackage can pick a taller or shorter target
// render height for constructs that are visually tall (fractions,
// integrals, matrices) versus a single inline symbol.
var latexComplexityWeight = map[string]float64{
	`\frac`:  2.0,
	`\dfrac`: 2.0,
	`\tfrac`: 1.5,
	`\sqrt`:  1.4,
	`\int`:   1.8,
	`\sum`:   1.8,
	`\prod`:  1.8,
	`\lim`:   1.2,
}

// EstimateTextExtent returns the vertical pixel extent a plain-text write
// action will occupy once wrapped to the given number of lines.
func EstimateTextExtent(lineCount int) int {
	if lineCount < 1 {
		lineCount = 1
	}
	return lineCount * textLineHeightPx
}

// EstimateLaTeXComplexity scores latex by the structural weight of the
// constructs it contains, plus a small bump for sub/superscripts and
// overall length. Higher scores call for a taller target render height
// (see the latex package's Client.targetHeight).
func EstimateLaTeXComplexity(latex string) float64 {
	score := 1.0
	for construct, weight := range latexComplexityWeight {
		if strings.Contains(latex, construct) {
			score *= weight
		}
	}
	if strings.Contains(latex, `\begin{matrix}`) || strings.Contains(latex, `\begin{pmatrix}`) || strings.Contains(latex, `\begin{bmatrix}`) {
		score *= 2.4
	}
	score += 0.45 * float64(strings.Count(latex, "^"))
	score += 0.45 * float64(strings.Count(latex, "_"))
	if len(latex) > 40 {
		score += float64(len(latex)-40) / 60
	}
	return score
}
