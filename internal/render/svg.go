package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/malbeclabs/rttlab/internal/sample"
)

const (
	svgWidth   = 800
	svgHeight  = 400
	svgMargin  = 50
	svgYTicks  = 5
	svgMaxPlot = 2000
)

var svgFuncs = template.FuncMap{
	"xml": template.HTMLEscapeString,
}

var svgTemplate = template.Must(template.New("plot").Funcs(svgFuncs).Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
<rect width="100%" height="100%" fill="white"/>
<text x="{{.CenterX}}" y="25" text-anchor="middle" font-family="sans-serif" font-size="16">{{xml .Title}}</text>
<line x1="{{.Left}}" y1="{{.Bottom}}" x2="{{.Right}}" y2="{{.Bottom}}" stroke="black"/>
<line x1="{{.Left}}" y1="{{.Top}}" x2="{{.Left}}" y2="{{.Bottom}}" stroke="black"/>
{{- range .Ticks}}
<text x="{{$.TickX}}" y="{{.Y}}" text-anchor="end" font-family="sans-serif" font-size="10">{{.Label}}</text>
{{- end}}
<text x="{{.CenterX}}" y="{{.XLabelY}}" text-anchor="middle" font-family="sans-serif" font-size="12">Sample</text>
<text x="15" y="{{.CenterY}}" text-anchor="middle" font-family="sans-serif" font-size="12" transform="rotate(-90 15 {{.CenterY}})">RTT (ms)</text>
{{- if .Points}}
<polyline fill="none" stroke="steelblue" stroke-width="1.5" points="{{.Points}}"/>
{{- else}}
<text x="{{.CenterX}}" y="{{.CenterY}}" text-anchor="middle" font-family="sans-serif" font-size="14" fill="gray">no samples</text>
{{- end}}
</svg>
`))

type svgTick struct {
	Y     string
	Label string
}

type svgPlot struct {
	Title                    string
	Width, Height            int
	Left, Right, Top, Bottom int
	CenterX, CenterY         int
	TickX, XLabelY           int
	Ticks                    []svgTick
	Points                   string
}

// SVG writes each stream to <Dir>/<slug(title)>.svg.
type SVG struct {
	Dir string
}

func NewSVG(dir string) (*SVG, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	return &SVG{Dir: dir}, nil
}

// Path returns the file a stream with the given title is written to.
func (s *SVG) Path(title string) string {
	return filepath.Join(s.Dir, Slug(title)+".svg")
}

func (s *SVG) Render(ctx context.Context, stream sample.Stream, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	plot := svgPlot{
		Title:   title,
		Width:   svgWidth,
		Height:  svgHeight,
		Left:    svgMargin + 20,
		Right:   svgWidth - svgMargin,
		Top:     svgMargin,
		Bottom:  svgHeight - svgMargin,
		CenterX: svgWidth / 2,
		CenterY: svgHeight / 2,
		TickX:   svgMargin + 15,
		XLabelY: svgHeight - 15,
	}

	if !stream.Empty() {
		values := series(stream.RTTs(), svgMaxPlot)
		lo, hi := bounds(values)
		plotW := float64(plot.Right - plot.Left)
		plotH := float64(plot.Bottom - plot.Top)
		yOf := func(v float64) float64 {
			return float64(plot.Bottom) - (v-lo)/(hi-lo)*plotH
		}

		points := make([]string, len(values))
		for i, v := range values {
			x := float64(plot.Left)
			if len(values) > 1 {
				x += float64(i) / float64(len(values)-1) * plotW
			}
			points[i] = fmt.Sprintf("%.1f,%.1f", x, yOf(v))
		}
		plot.Points = strings.Join(points, " ")

		for i := range svgYTicks {
			v := lo + (hi-lo)*float64(i)/float64(svgYTicks-1)
			plot.Ticks = append(plot.Ticks, svgTick{Y: fmt.Sprintf("%.1f", yOf(v)+3), Label: fmt.Sprintf("%.2f", v)})
		}
	}

	var buf bytes.Buffer
	if err := svgTemplate.Execute(&buf, plot); err != nil {
		return fmt.Errorf("failed to render svg: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(s.Path(title), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write plot: %w", err)
	}
	return nil
}
