package noise

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BandColors maps each dominant band to its stroke color; 0 is ambient.
var BandColors = map[int]color.RGBA{
	0:  {R: 0xb0, G: 0xc4, B: 0xb1, A: 0xff},
	40: {R: 0x4c, G: 0xaf, B: 0x50, A: 0xff},
	50: {R: 0xcd, G: 0xdc, B: 0x39, A: 0xff},
	55: {R: 0xff, G: 0xeb, B: 0x3b, A: 0xff},
	60: {R: 0xff, G: 0x98, B: 0x00, A: 0xff},
	65: {R: 0xf4, G: 0x43, B: 0x36, A: 0xff},
	70: {R: 0x9c, G: 0x27, B: 0xb0, A: 0xff},
}

var unprofiledColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

// BandRenderer draws the graph with every edge colored by its dominant band.
type BandRenderer struct {
	edges    []Edge
	dominant map[int64]int

	MaxSize    float64           // longer side of the drawing in mm
	Padding    float64           // mm
	LineWidth  float64           // mm
	Tolerance  float64           // simplification threshold in map units, 0 disables
	Resolution canvas.Resolution // PNG only
}

// NewBandRenderer prepares a renderer for the edges and their profiles.
func NewBandRenderer(edges []Edge, profiles []EdgeNoiseProfile) *BandRenderer {
	dominant := make(map[int64]int, len(profiles))
	for _, p := range profiles {
		dominant[p.EdgeID] = p.DominantBand()
	}
	return &BandRenderer{
		edges:      edges,
		dominant:   dominant,
		MaxSize:    500,
		Padding:    10,
		LineWidth:  0.6,
		Tolerance:  0.5,
		Resolution: canvas.DPMM(4),
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// frame maps world coordinates to canvas millimeters.
type frame struct {
	bound         orb.Bound
	scale         float64
	width, height float64
	padding       float64
}

func (r *BandRenderer) frame() frame {
	var bound orb.Bound
	first := true
	for _, e := range r.edges {
		if len(e.Geometry) == 0 {
			continue
		}
		if first {
			bound = e.Geometry.Bound()
			first = false
			continue
		}
		bound = bound.Union(e.Geometry.Bound())
	}

	extent := math.Max(bound.Max[0]-bound.Min[0], bound.Max[1]-bound.Min[1])
	scale := 1.0
	if extent > 0 {
		scale = (r.MaxSize - 2*r.Padding) / extent
	}
	return frame{
		bound:   bound,
		scale:   scale,
		width:   (bound.Max[0]-bound.Min[0])*scale + 2*r.Padding,
		height:  (bound.Max[1]-bound.Min[1])*scale + 2*r.Padding,
		padding: r.Padding,
	}
}

func (f frame) point(p orb.Point) (float64, float64) {
	return (p[0]-f.bound.Min[0])*f.scale + f.padding, (p[1]-f.bound.Min[1])*f.scale + f.padding
}

// RenderToSVG writes the band map as SVG.
func (r *BandRenderer) RenderToSVG(w io.Writer) error {
	f := r.frame()
	s := svg.New(w, f.width, f.height, nil)
	r.renderToCanvas(s, f)
	return s.Close()
}

// RenderToPNG writes the band map as PNG with a legend.
func (r *BandRenderer) RenderToPNG(w io.Writer) error {
	f := r.frame()
	rast := rasterizer.New(f.width, f.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, f)
	r.drawLegend(rast)
	return png.Encode(w, rast)
}

func (r *BandRenderer) renderToCanvas(renderer canvasRenderer, f frame) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	bg.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(f.width, f.height), bg, canvas.Identity)

	// unprofiled edges first so colored edges stay on top
	for pass := 0; pass < 2; pass++ {
		for _, e := range r.edges {
			band, profiled := r.dominant[e.ID]
			if profiled != (pass == 1) || len(e.Geometry) < 2 {
				continue
			}
			c := unprofiledColor
			if profiled {
				c = BandColors[band]
			}

			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: canvas.Transparent}
			style.Stroke = canvas.Paint{Color: c}
			style.StrokeWidth = r.LineWidth

			cp := &canvas.Path{}
			for i, p := range r.simplified(e.Geometry) {
				x, y := f.point(p)
				if i == 0 {
					cp.MoveTo(x, y)
				} else {
					cp.LineTo(x, y)
				}
			}
			renderer.RenderPath(cp, style, canvas.Identity)
		}
	}
}

func (r *BandRenderer) simplified(ls orb.LineString) orb.LineString {
	if r.Tolerance <= 0 || len(ls) <= 2 {
		return ls
	}
	out, ok := simplify.DouglasPeucker(r.Tolerance).Simplify(ls.Clone()).(orb.LineString)
	if !ok || len(out) < 2 {
		return ls
	}
	return out
}

// drawLegend paints one swatch and label per band in the top left corner.
func (r *BandRenderer) drawLegend(img *rasterizer.Rasterizer) {
	const (
		swatch = 12
		margin = 8
		row    = 18
	)
	bands := append([]int{0}, Bands...)
	for i, band := range bands {
		y := margin + i*row
		rect := image.Rect(margin, y, margin+swatch, y+swatch)
		for py := rect.Min.Y; py < rect.Max.Y; py++ {
			for px := rect.Min.X; px < rect.Max.X; px++ {
				img.Set(px, py, BandColors[band])
			}
		}
		label := bandLabel(band)
		if band > 0 {
			label += " dB"
		}
		drawText(img, label, margin+swatch+6, y+swatch-2, color.Black)
	}
}

func drawText(img *rasterizer.Rasterizer, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
