package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/user/circuitdiag/internal/availability"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// ErrNoChartData is returned when a series has fewer than two points.
var ErrNoChartData = errors.New("not enough samples to chart")

// RenderHistoryChart draws reachability (0 or 100) and packet loss for
// the report window as a PNG.
func RenderHistoryChart(w io.Writer, data *ReportData) error {
	var series []chart.Series

	if len(data.Ping) >= 2 {
		xs, ys := make([]time.Time, len(data.Ping)), make([]float64, len(data.Ping))
		for i, s := range data.Ping {
			xs[i] = s.Timestamp
			if availability.IsUp(s) {
				ys[i] = 100
			}
		}
		series = append(series, chart.TimeSeries{
			Name: "Reachable",
			Style: chart.Style{
				StrokeColor: chart.GetDefaultColor(0),
				StrokeWidth: 2,
			},
			XValues: xs,
			YValues: ys,
		})
	}

	if len(data.Loss) >= 2 {
		xs, ys := sampleSeries(data.Loss)
		series = append(series, chart.TimeSeries{
			Name: "Loss %",
			Style: chart.Style{
				StrokeColor:     chart.GetDefaultColor(1),
				StrokeWidth:     2,
				StrokeDashArray: []float64{5, 5},
			},
			XValues: xs,
			YValues: ys,
		})
	}

	if len(series) == 0 {
		return ErrNoChartData
	}

	graph := chart.Chart{
		Title: fmt.Sprintf("Service History - %s", data.ServiceID),
		TitleStyle: chart.Style{
			FontSize: 16,
		},
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		Width:  1200,
		Height: 400,
		XAxis: chart.XAxis{
			Name: "Time",
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				FontSize:    10,
			},
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Percent",
			Style: chart.Style{
				StrokeColor: drawing.ColorBlack,
				FontSize:    10,
			},
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
			GridMajorStyle: chart.Style{
				StrokeColor: drawing.Color{R: 200, G: 200, B: 200, A: 255},
				StrokeWidth: 1.0,
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// WriteHistoryChart renders the chart to path, creating its directory.
func WriteHistoryChart(data *ReportData, path string) error {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := RenderHistoryChart(file, data); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

func sampleSeries(samples []model.Sample) ([]time.Time, []float64) {
	xs := make([]time.Time, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i] = s.Timestamp
		ys[i] = s.Value
	}
	return xs, ys
}
