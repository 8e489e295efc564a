package latex

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MrWong99/glyphoxa/pkg/wire"
)

// point is a 2D coordinate in the SVG's own coordinate space, before any
// scaling to board pixels.
type point struct{ X, Y float64 }

// affine is a 2D affine transform matrix in SVG's [a c e; b d f] form.
type affine struct{ A, B, C, D, E, F float64 }

var identity = affine{A: 1, D: 1}

// apply transforms p by m.
func (m affine) apply(p point) point {
	return point{
		X: m.A*p.X + m.C*p.Y + m.E,
		Y: m.B*p.X + m.D*p.Y + m.F,
	}
}

// compose returns the transform that applies child first, then parent —
// i.e. parent.compose(child) matches nested SVG group semantics where an
// inner <g transform=child> sits inside an outer <g transform=parent>.
func (parent affine) compose(child affine) affine {
	return affine{
		A: parent.A*child.A + parent.C*child.B,
		B: parent.B*child.A + parent.D*child.B,
		C: parent.A*child.C + parent.C*child.D,
		D: parent.B*child.C + parent.D*child.D,
		E: parent.A*child.E + parent.C*child.F + parent.E,
		F: parent.B*child.E + parent.D*child.F + parent.F,
	}
}

// parseTransform parses a "matrix(...)", "translate(...)", or "scale(...)"
// SVG transform attribute value. Unrecognized or malformed input returns
// the identity transform rather than an error, since a cosmetic transform
// we can't parse should not abort the whole render.
func parseTransform(s string) affine {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	shut := strings.IndexByte(s, ')')
	if open < 0 || shut < 0 || shut < open {
		return identity
	}
	fn := strings.TrimSpace(s[:open])
	args := splitFloats(s[open+1 : shut])

	switch fn {
	case "matrix":
		if len(args) != 6 {
			return identity
		}
		return affine{A: args[0], B: args[1], C: args[2], D: args[3], E: args[4], F: args[5]}
	case "translate":
		if len(args) == 1 {
			return affine{A: 1, D: 1, E: args[0]}
		}
		if len(args) >= 2 {
			return affine{A: 1, D: 1, E: args[0], F: args[1]}
		}
	case "scale":
		if len(args) == 1 {
			return affine{A: args[0], D: args[0]}
		}
		if len(args) >= 2 {
			return affine{A: args[0], D: args[1]}
		}
	}
	return identity
}

func splitFloats(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// bounds tracks the axis-aligned extent of every sampled point across all
// paths in one SVG document.
type bounds struct {
	MinX, MinY, MaxX, MaxY float64
	set                    bool
}

func (b *bounds) include(p point) {
	if !b.set {
		b.MinX, b.MaxX = p.X, p.X
		b.MinY, b.MaxY = p.Y, p.Y
		b.set = true
		return
	}
	if p.X < b.MinX {
		b.MinX = p.X
	}
	if p.X > b.MaxX {
		b.MaxX = p.X
	}
	if p.Y < b.MinY {
		b.MinY = p.Y
	}
	if p.Y > b.MaxY {
		b.MaxY = p.Y
	}
}

// svgToStrokes walks the SVG document, composing nested <g transform=...>
// groups, and samples every <path d=...> element into one stroke. Returns
// the sampled strokes (in the SVG's own coordinate space) and their
// combined bounding box.
func svgToStrokes(svg, color string) ([]wire.Stroke, bounds, error) {
	dec := xml.NewDecoder(strings.NewReader(svg))

	type frame struct {
		transform affine
	}
	stack := []frame{{transform: identity}}

	var strokes []wire.Stroke
	var bb bounds

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bounds{}, fmt.Errorf("latex: parse svg: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			cumulative := stack[len(stack)-1].transform
			if t := attr(el, "transform"); t != "" {
				cumulative = cumulative.compose(parseTransform(t))
			}

			switch el.Name.Local {
			case "g", "svg":
				stack = append(stack, frame{transform: cumulative})

			case "path":
				d := attr(el, "d")
				if d == "" {
					continue
				}
				pts := flattenPath(d)
				if len(pts) == 0 {
					continue
				}
				strokePoints := make([]wire.StrokePoint, 0, len(pts))
				for _, p := range pts {
					tp := cumulative.apply(p)
					bb.include(tp)
					strokePoints = append(strokePoints, wire.StrokePoint{X: tp.X, Y: tp.Y, Pressure: 0.8})
				}
				strokes = append(strokes, wire.Stroke{Points: strokePoints, Color: color, Width: 2.0})
			}

		case xml.EndElement:
			if el.Name.Local == "g" || el.Name.Local == "svg" {
				if len(stack) > 1 {
					stack = stack[:len(stack)-1]
				}
			}
		}
	}

	if !bb.set {
		return nil, bounds{}, fmt.Errorf("latex: no path data found")
	}
	return strokes, bb, nil
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// curveSamples is how many points each cubic/quadratic Bézier segment is
// flattened into. Font-outline paths are short enough that a fixed sample
// count per segment looks smooth without the complexity of adaptive
// subdivision.
const curveSamples = 8

// flattenPath parses a minimal subset of SVG path data — M/m, L/l, H/h,
// V/v, C/c, Q/q, Z/z — sufficient for the glyph outlines a MathJax-like SVG
// renderer emits, and flattens curves into line segments. Arcs (A/a) and
// the smooth-curve shorthands (S/s, T/t) are not supported: reading of the
// path stops at the first one, keeping only the points before it.
func flattenPath(d string) []point {
	toks := tokenizePath(d)
	i := 0

	var pts []point
	var cur, start point
	var cmd byte

	readFloats := func(n int) []float64 {
		out := make([]float64, 0, n)
		for len(out) < n && i < len(toks) {
			v, err := strconv.ParseFloat(toks[i], 64)
			i++
			if err != nil {
				continue
			}
			out = append(out, v)
		}
		return out
	}

	for i < len(toks) {
		tok := toks[i]
		if isPathCommand(tok) {
			cmd = tok[0]
			i++
		}

		switch cmd {
		case 'M', 'm':
			args := readFloats(2)
			if len(args) < 2 {
				i = len(toks)
				break
			}
			p := point{X: args[0], Y: args[1]}
			if cmd == 'm' && len(pts) > 0 {
				p.X += cur.X
				p.Y += cur.Y
			}
			cur = p
			start = p
			pts = append(pts, p)
			cmd = relLine(cmd) // subsequent bare coordinate pairs are implicit lineto

		case 'L', 'l':
			args := readFloats(2)
			if len(args) < 2 {
				break
			}
			p := point{X: args[0], Y: args[1]}
			if cmd == 'l' {
				p.X += cur.X
				p.Y += cur.Y
			}
			cur = p
			pts = append(pts, p)

		case 'H', 'h':
			args := readFloats(1)
			if len(args) < 1 {
				break
			}
			x := args[0]
			if cmd == 'h' {
				x += cur.X
			}
			cur = point{X: x, Y: cur.Y}
			pts = append(pts, cur)

		case 'V', 'v':
			args := readFloats(1)
			if len(args) < 1 {
				break
			}
			y := args[0]
			if cmd == 'v' {
				y += cur.Y
			}
			cur = point{X: cur.X, Y: y}
			pts = append(pts, cur)

		case 'C', 'c':
			args := readFloats(6)
			if len(args) < 6 {
				break
			}
			c1 := point{X: args[0], Y: args[1]}
			c2 := point{X: args[2], Y: args[3]}
			end := point{X: args[4], Y: args[5]}
			if cmd == 'c' {
				c1.X += cur.X
				c1.Y += cur.Y
				c2.X += cur.X
				c2.Y += cur.Y
				end.X += cur.X
				end.Y += cur.Y
			}
			pts = append(pts, sampleCubic(cur, c1, c2, end, curveSamples)...)
			cur = end

		case 'Q', 'q':
			args := readFloats(4)
			if len(args) < 4 {
				break
			}
			c1 := point{X: args[0], Y: args[1]}
			end := point{X: args[2], Y: args[3]}
			if cmd == 'q' {
				c1.X += cur.X
				c1.Y += cur.Y
				end.X += cur.X
				end.Y += cur.Y
			}
			pts = append(pts, sampleQuadratic(cur, c1, end, curveSamples)...)
			cur = end

		case 'Z', 'z':
			cur = start
			pts = append(pts, cur)

		default:
			// Unsupported command (arcs, etc.): stop parsing this path
			// rather than risk misreading the remaining tokens.
			return pts
		}
	}

	return pts
}

// relLine maps an initial moveto's implicit-lineto continuation command.
func relLine(cmd byte) byte {
	if cmd == 'm' {
		return 'l'
	}
	return 'L'
}

func isPathCommand(tok string) bool {
	if len(tok) != 1 {
		return false
	}
	switch tok[0] {
	case 'M', 'm', 'L', 'l', 'H', 'h', 'V', 'v', 'C', 'c', 'Q', 'q', 'Z', 'z',
		'A', 'a', 'S', 's', 'T', 't':
		return true
	}
	return false
}

// tokenizePath splits SVG path data into command letters and numbers,
// handling the common "no separator" style (e.g. "M10-5" or "1.5.5" which
// SVG interprets as "1.5" then ".5").
func tokenizePath(d string) []string {
	var toks []string
	var cur strings.Builder
	flushNumber := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}

	seenDot := false
	for _, r := range d {
		switch {
		case isPathCommand(string(r)):
			flushNumber()
			seenDot = false
			toks = append(toks, string(r))
		case r == ',' || r == ' ' || r == '\n' || r == '\t':
			flushNumber()
			seenDot = false
		case r == '-':
			flushNumber()
			seenDot = false
			cur.WriteRune(r)
		case r == '.':
			if seenDot {
				flushNumber()
				seenDot = false
			}
			seenDot = true
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flushNumber()
	return toks
}

func sampleCubic(p0, c1, c2, p1 point, n int) []point {
	out := make([]point, 0, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		mt := 1 - t
		x := mt*mt*mt*p0.X + 3*mt*mt*t*c1.X + 3*mt*t*t*c2.X + t*t*t*p1.X
		y := mt*mt*mt*p0.Y + 3*mt*mt*t*c1.Y + 3*mt*t*t*c2.Y + t*t*t*p1.Y
		out = append(out, point{X: x, Y: y})
	}
	return out
}

func sampleQuadratic(p0, c1, p1 point, n int) []point {
	out := make([]point, 0, n)
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		mt := 1 - t
		x := mt*mt*p0.X + 2*mt*t*c1.X + t*t*p1.X
		y := mt*mt*p0.Y + 2*mt*t*c1.Y + t*t*p1.Y
		out = append(out, point{X: x, Y: y})
	}
	return out
}

// scaleAndPlace rescales strokes (in the SVG's own coordinate space, with
// the given bounds) to targetHeightPx tall, clamping the scale down further
// if that would make the result wider than maxWidthPx, then translates
// them so bounds' top-left corner lands at position.
func scaleAndPlace(strokes []wire.Stroke, b bounds, position wire.Point, targetHeightPx, maxWidthPx float64) []wire.Stroke {
	height := b.MaxY - b.MinY
	width := b.MaxX - b.MinX
	if height <= 0 {
		height = 1
	}

	scale := targetHeightPx / height
	if width*scale > maxWidthPx && maxWidthPx > 0 {
		scale = maxWidthPx / width
	}

	out := make([]wire.Stroke, len(strokes))
	for i, s := range strokes {
		pts := make([]wire.StrokePoint, len(s.Points))
		for j, p := range s.Points {
			pts[j] = wire.StrokePoint{
				X:        position.X + (p.X-b.MinX)*scale,
				Y:        position.Y + (p.Y-b.MinY)*scale,
				Pressure: p.Pressure,
			}
		}
		out[i] = wire.Stroke{Points: pts, Color: s.Color, Width: s.Width}
	}
	return out
}
