// Package render draws frames to PNG images.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/quillaja/quadgrav/internal/quadtree"
	"github.com/quillaja/quadgrav/internal/record"
)

// View maps a world region onto an image. The world's min corner lands
// on the image's top left pixel.
type View struct {
	World  quadtree.Region
	Bounds image.Rectangle
}

// ToScreen converts a world position to pixel coordinates.
func (v View) ToScreen(p mgl64.Vec2) (x, y int) {
	x = v.Bounds.Min.X + int(math.Floor(lerp(p[0], v.World.Min[0], v.World.Max[0])*float64(v.Bounds.Dx())))
	y = v.Bounds.Min.Y + int(math.Floor(lerp(p[1], v.World.Min[1], v.World.Max[1])*float64(v.Bounds.Dy())))
	return
}

// Scale is pixels per world unit along x.
func (v View) Scale() float64 {
	return float64(v.Bounds.Dx()) / v.World.Width()
}

// PNGSink writes every frame to <dir>/<tick>.png.
type PNGSink struct {
	dir  string
	view View
}

func NewPNGSink(dir string, width, height int, world quadtree.Region) (*PNGSink, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("render: image size %dx%d", width, height)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &PNGSink{
		dir:  dir,
		view: View{World: world, Bounds: image.Rect(0, 0, width, height)},
	}, nil
}

func (s *PNGSink) Name() string { return "png" }

func (s *PNGSink) WriteFrame(f *record.Frame) error {
	film := Draw(f, s.view)

	name := filepath.Join(s.dir, fmt.Sprintf("%010d.png", f.Tick))
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := png.Encode(file, film); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	return file.Close()
}

func (s *PNGSink) Close() error { return nil }

// Draw renders a whole frame: black background, tree nodes, then bodies.
func Draw(f *record.Frame, v View) *image.RGBA {
	film := image.NewRGBA(v.Bounds)
	draw.Draw(film, film.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	DrawTree(film, f.Nodes, v)
	DrawBodies(film, f.Bodies, v)
	return film
}

// DrawTree outlines each node boundary.
func DrawTree(img draw.Image, nodes []quadtree.Region, v View) {
	for _, r := range nodes {
		x0, y0 := v.ToScreen(r.Min)
		x1, y1 := v.ToScreen(r.Max)
		x1, y1 = x1-1, y1-1 // max is exclusive
		plotline(img, vdarkgray, x0, y0, x1, y0)
		plotline(img, vdarkgray, x1, y0, x1, y1)
		plotline(img, vdarkgray, x1, y1, x0, y1)
		plotline(img, vdarkgray, x0, y1, x0, y0)
	}
}

// DrawBodies draws bodies as disks coloured by mass, lightest first so the
// heavy ones end up on top. bodies is not modified.
func DrawBodies(img draw.Image, bodies []record.FrameBody, v View) {
	order := make([]int, len(bodies))
	var maxMass float32
	for i := range order {
		order[i] = i
		if bodies[i].Mass > maxMass {
			maxMass = bodies[i].Mass
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return bodies[order[i]].Mass < bodies[order[j]].Mass
	})

	scale := v.Scale()
	for _, i := range order {
		b := bodies[i]
		x, y := v.ToScreen(mgl64.Vec2{float64(b.X), float64(b.Y)})
		col := c(float64(b.Mass), float64(maxMass))
		r := int(math.Round(float64(b.Radius) * scale))
		if r < 1 {
			img.Set(x, y, col)
			continue
		}
		plotcirclefilled(img, col, x, y, r)
		if r >= 4 {
			plotcircle(img, lightgray, x, y, r)
		}
	}
}

// lerp x to [0,1]
func lerp(x, min, max float64) float64 {
	return (x - min) / (max - min)
}

var (
	lightgray = color.RGBA{192, 192, 192, 255}
	vdarkgray = color.RGBA{48, 48, 48, 255}
	red       = color.RGBA{255, 0, 0, 255}
	green     = color.RGBA{0, 255, 0, 255}
	blue      = color.RGBA{0, 0, 255, 255}
	yellow    = color.RGBA{255, 255, 0, 255}
	purple    = color.RGBA{255, 0, 255, 255}
	cyan      = color.RGBA{0, 255, 255, 255}
)

// colour band of mass m out of seven equal bands up to max.
func c(m, max float64) color.Color {
	step := max / 7
	switch {
	case m > 6*step:
		return red
	case m > 5*step:
		return purple
	case m > 4*step:
		return yellow
	case m > 3*step:
		return green
	case m > 2*step:
		return blue
	case m > 1*step:
		return cyan
	default:
		return color.White
	}
}

// plotline draws a simple line on img from (x0,y0) to (x1,y1).
//
// Bresenham's line algorithm as given at
// https://en.wikipedia.org/wiki/Bresenham%27s_line_algorithm.
func plotline(img draw.Image, c color.Color, x0, y0, x1, y1 int) {
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// plotcirclefilled draws a filled circle at (x0,y0) of radius r.
func plotcirclefilled(img draw.Image, c color.Color, x0, y0, r int) {
	rsqr := float64(r * r)
	for y := r; y >= 0; y-- {
		xright := int(math.Sqrt(rsqr - float64(y*y)))
		for x := -xright; x <= xright; x++ {
			img.Set(x0+x, y0+y, c)
			img.Set(x0+x, y0-y, c)
		}
	}
}

// plotcircle draws an unfilled circle at (x0,y0) of radius r.
func plotcircle(img draw.Image, c color.Color, x0, y0, r int) {
	x := r
	for y := 0; y <= x; y++ {
		img.Set(x0+x, y0+y, c)
		img.Set(x0+x, y0-y, c)
		img.Set(x0-x, y0+y, c)
		img.Set(x0-x, y0-y, c)

		img.Set(x0+y, y0+x, c)
		img.Set(x0+y, y0-x, c)
		img.Set(x0-y, y0+x, c)
		img.Set(x0-y, y0-x, c)
		d := 2*(x*x+y*y-r*r+2*y+1) + 1 - 2*x
		if d > 0 {
			x--
		}
	}
}
