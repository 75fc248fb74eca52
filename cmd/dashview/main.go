// Command dashview is a desktop viewer for the dashboard's chart spec
// files. It reads out/specs/index.json, lets the user pick a district or a
// BOCES comparison view, and renders the charts with toggleable series.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/evcatalyst/nys-district-dashboard/src/chartrender"
	"github.com/evcatalyst/nys-district-dashboard/src/types"
)

const (
	chartWidth  = 860.0
	chartHeight = 400.0
)

type viewerState struct {
	window   fyne.Window
	specDir  string
	dataDir  string
	index    types.Index
	resSeq   int
	rows     []*chartRow
	charts   *fyne.Container
	title    *widget.Label
	backBtn  *widget.Button
	current  string
}

// chartRow pairs one chart's renderer with its image and legend widgets so a
// series toggle re-renders only that chart.
type chartRow struct {
	renderer *chartrender.Renderer
	img      *canvas.Image
	spec     types.ChartSpec
}

func main() {
	var specDir, dataDir string
	flag.StringVar(&specDir, "specs", filepath.Join("out", "specs"), "Directory holding index.json and the spec files")
	flag.StringVar(&dataDir, "data", filepath.Join("out", "data"), "Directory holding sources.json")
	flag.Parse()

	a := app.NewWithID("com.evcatalyst.dashview")
	w := a.NewWindow("NYS District Dashboard")
	w.Resize(fyne.NewSize(1000, 760))

	state := &viewerState{window: w, specDir: specDir, dataDir: dataDir}

	var index types.Index
	if err := readJSON(filepath.Join(specDir, "index.json"), &index); err != nil {
		dialog.ShowError(fmt.Errorf("load %s: %w\nrun the pipeline first", filepath.Join(specDir, "index.json"), err), w)
	}
	state.index = index

	state.title = widget.NewLabel("Select a district")
	state.title.TextStyle = fyne.TextStyle{Bold: true}
	state.charts = container.NewVBox()

	bocesNames := []string{"All"}
	for _, b := range index.BOCES {
		bocesNames = append(bocesNames, b.Name)
	}

	districtSelect := widget.NewSelect(nil, nil)
	setDistrictOptions := func(boces string) {
		var names []string
		for _, d := range index.Districts {
			if boces == "" || boces == "All" || d.BOCES == boces {
				names = append(names, d.Name)
			}
		}
		districtSelect.Options = names
		districtSelect.ClearSelected()
		districtSelect.Refresh()
	}
	setDistrictOptions("All")

	bocesSelect := widget.NewSelect(bocesNames, setDistrictOptions)
	bocesSelect.Selected = "All"
	bocesSelect.PlaceHolder = "BOCES region"

	districtSelect.OnChanged = func(name string) {
		if name == "" {
			return
		}
		state.showDistrict(name)
	}
	districtSelect.PlaceHolder = "District"

	clusterBtn := widget.NewButton("BOCES comparison", func() {
		boces := bocesSelect.Selected
		if boces == "" || boces == "All" {
			dialog.ShowInformation("Comparison", "Pick a BOCES region first.", w)
			return
		}
		state.showCluster(boces)
	})
	state.backBtn = widget.NewButton("Back", func() {
		if state.current != "" {
			state.showDistrict(state.current)
		}
	})
	state.backBtn.Hide()

	exportBtn := widget.NewButton("Export PNG", func() { state.exportPNG() })
	sourcesBtn := widget.NewButton("Sources", func() {
		dialog.ShowInformation("Data sources", state.sourcesDetail(), w)
	})

	top := container.NewHBox(bocesSelect, districtSelect, clusterBtn, state.backBtn, exportBtn, sourcesBtn)
	footer := widget.NewLabel(state.sourcesSummary())
	footer.Wrapping = fyne.TextWrapWord

	content := container.NewBorder(
		container.NewVBox(top, state.title), footer, nil, nil,
		container.NewVScroll(state.charts),
	)
	w.SetContent(content)
	w.ShowAndRun()
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *viewerState) showDistrict(name string) {
	var specFile string
	for _, d := range s.index.Districts {
		if d.Name == name {
			specFile = d.SpecFile
			break
		}
	}
	if specFile == "" {
		return
	}
	var spec types.DistrictSpec
	if err := readJSON(filepath.Join(s.specDir, specFile), &spec); err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.current = name
	s.backBtn.Hide()
	title := spec.District
	if snap := snapshotLine(spec.Snapshot); snap != "" {
		title += "  |  " + snap
	}
	s.title.SetText(title)
	s.setCharts(spec.Charts)
}

func (s *viewerState) showCluster(boces string) {
	var specFile string
	for _, b := range s.index.BOCES {
		if b.Name == boces {
			specFile = b.SpecFile
			break
		}
	}
	if specFile == "" {
		return
	}
	var spec types.ClusterSpec
	if err := readJSON(filepath.Join(s.specDir, specFile), &spec); err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	s.backBtn.Show()
	s.title.SetText(fmt.Sprintf("%s (%d districts)", spec.BOCES, len(spec.Districts)))
	s.setCharts(spec.Charts)
}

// setCharts rebuilds the chart column. Each chart gets its own renderer so
// series visibility is per chart and resets on navigation.
func (s *viewerState) setCharts(charts []types.ChartSpec) {
	s.charts.Objects = nil
	s.rows = nil
	for i := range charts {
		row := &chartRow{renderer: chartrender.New(chartWidth, chartHeight), spec: charts[i]}
		row.renderer.SetSpec(&row.spec)
		row.img = canvas.NewImageFromResource(s.svgResource(row))
		row.img.FillMode = canvas.ImageFillContain
		row.img.SetMinSize(fyne.NewSize(chartWidth, chartHeight))

		legend := container.NewHBox()
		for _, series := range row.spec.Series {
			series := series
			chk := widget.NewCheck(series.Name, func(bool) {
				row.renderer.ToggleSeries(series.Name)
				s.refresh(row)
			})
			chk.SetChecked(true)
			legend.Add(chk)
		}
		s.rows = append(s.rows, row)
		s.charts.Add(container.NewVBox(row.img, legend, widget.NewSeparator()))
	}
	s.charts.Refresh()
}

// svgResource renders the row's current primitives to an SVG resource. The
// name carries a sequence number so fyne's resource cache never serves a
// stale image after a toggle.
func (s *viewerState) svgResource(row *chartRow) fyne.Resource {
	s.resSeq++
	svg := chartrender.SVG(row.renderer.Render(), chartWidth, chartHeight)
	return fyne.NewStaticResource(fmt.Sprintf("chart-%d.svg", s.resSeq), svg)
}

func (s *viewerState) refresh(row *chartRow) {
	row.img.Resource = s.svgResource(row)
	row.img.Refresh()
}

// exportPNG saves the first visible chart as a PNG with a footer stamp.
func (s *viewerState) exportPNG() {
	if len(s.rows) == 0 {
		dialog.ShowInformation("Export", "No chart to export.", s.window)
		return
	}
	spec := s.rows[0].spec
	raw, err := chartrender.SnapshotPNG(&spec, int(chartWidth), int(chartHeight))
	if err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	stamped, err := stampFooter(raw, fmt.Sprintf("Exported %s", time.Now().Format("2006-01-02 15:04")))
	if err != nil {
		dialog.ShowError(err, s.window)
		return
	}
	fs := dialog.NewFileSave(func(wc fyne.URIWriteCloser, err error) {
		if err != nil || wc == nil {
			return
		}
		defer wc.Close()
		if _, err := wc.Write(stamped); err != nil {
			dialog.ShowError(err, s.window)
		}
	}, s.window)
	fs.SetFileName(types.Slug(spec.Title) + ".png")
	fs.Show()
}

// stampFooter re-encodes the PNG with a small text stamp in the bottom-left
// corner.
func stampFooter(raw []byte, text string) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	img := image.NewRGBA(b)
	draw.Draw(img, b, src, b.Min, draw.Src)
	d := font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(b.Min.X+6, b.Max.Y-6),
	}
	d.DrawString(text)
	var out bytes.Buffer
	if err := png.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// sourcesSummary gives a best-effort provenance line for the footer; the
// viewer still works with no sources.json at all.
func (s *viewerState) sourcesSummary() string {
	sources, err := types.LoadSources(filepath.Join(s.dataDir, "sources.json"))
	if err != nil || len(sources) == 0 {
		return "Sources: not available"
	}
	success, failed := 0, 0
	for _, src := range sources {
		if src.Status == types.StatusSuccess {
			success++
		} else {
			failed++
		}
	}
	line := fmt.Sprintf("Sources: %d cached", success)
	if failed > 0 {
		line += fmt.Sprintf(", %d failed", failed)
	}
	return line
}

// sourcesDetail lists up to ten cached source URLs plus a failure warning.
func (s *viewerState) sourcesDetail() string {
	sources, err := types.LoadSources(filepath.Join(s.dataDir, "sources.json"))
	if err != nil || len(sources) == 0 {
		return "No source provenance recorded. Run the fetch stage first."
	}
	var lines []string
	failed := 0
	for _, src := range sources {
		if src.Status != types.StatusSuccess {
			failed++
			continue
		}
		if len(lines) < 10 {
			lines = append(lines, src.URL)
		}
	}
	out := strings.Join(lines, "\n")
	if len(sources)-failed > 10 {
		out += fmt.Sprintf("\n… and %d more", len(sources)-failed-10)
	}
	if failed > 0 {
		out += fmt.Sprintf("\n\nWarning: %d sources failed to fetch.", failed)
	}
	return out
}

func snapshotLine(snap *types.Snapshot) string {
	if snap == nil {
		return ""
	}
	parts := ""
	if snap.ELAPct != nil {
		parts += fmt.Sprintf("ELA %.1f%%  ", *snap.ELAPct)
	}
	if snap.GradPct != nil {
		parts += fmt.Sprintf("Grad %.1f%%  ", *snap.GradPct)
	}
	if snap.PerPupilTotal != nil {
		parts += fmt.Sprintf("$%.0f/pupil", *snap.PerPupilTotal)
	}
	return parts
}
