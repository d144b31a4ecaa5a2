// Package charts draws visibility profiles of validated paths, as static
// images with gonum/plot or as interactive HTML with go-echarts.
package charts

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/fovguard/internal/validation"
)

// AssetsHost serves the echarts scripts for rendered pages.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// SaveProfilePlot writes one line per group of visible features against
// sample index, with its threshold dashed. The format follows the file
// extension (.png, .svg, .pdf).
func SaveProfilePlot(p *validation.Profile, title, path string) error {
	switch filepath.Ext(path) {
	case ".png", ".svg", ".pdf":
	default:
		return fmt.Errorf("unsupported plot format %q", filepath.Ext(path))
	}
	if len(p.Visible) == 0 {
		return fmt.Errorf("empty profile")
	}

	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = "Sample"
	pl.Y.Label.Text = "Visible features"
	pl.Y.Min = 0

	last := float64(len(p.Visible) - 1)
	for g, name := range p.Groups {
		pts := make(plotter.XYs, len(p.Visible))
		for i, row := range p.Visible {
			pts[i] = plotter.XY{X: float64(i), Y: float64(row[g])}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(g)
		line.Width = vg.Points(1.5)
		pl.Add(line)
		pl.Legend.Add(name, line)

		th, err := plotter.NewLine(plotter.XYs{
			{X: 0, Y: float64(p.Thresholds[g])},
			{X: last, Y: float64(p.Thresholds[g])},
		})
		if err != nil {
			return err
		}
		th.Color = plotutil.Color(g)
		th.Width = vg.Points(0.75)
		th.Dashes = []vg.Length{vg.Points(4), vg.Points(3)}
		pl.Add(th)
	}

	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10

	return pl.Save(10*vg.Inch, 4*vg.Inch, path)
}

// RenderProfile writes an HTML page with the profile as a line chart.
func RenderProfile(w io.Writer, p *validation.Profile, title string) error {
	x := make([]string, len(p.Visible))
	for i := range p.Visible {
		x[i] = strconv.Itoa(i)
	}

	subtitle := "path clear"
	if i := p.FirstClogged(); i >= 0 {
		subtitle = fmt.Sprintf("first clogged at sample %d of %d", i, len(p.Visible))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Sample", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Visible features", Min: 0}),
	)
	line.SetXAxis(x)
	for g, name := range p.Groups {
		data := make([]opts.LineData, len(p.Visible))
		for i, row := range p.Visible {
			data[i] = opts.LineData{Value: row[g]}
		}
		line.AddSeries(name, data,
			charts.WithLineChartOpts(opts.LineChart{Step: "middle"}),
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{
				Name:  fmt.Sprintf("%s threshold", name),
				YAxis: p.Thresholds[g],
			}),
		)
	}

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(line)
	return page.Render(w)
}
