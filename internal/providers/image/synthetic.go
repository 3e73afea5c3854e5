package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	stdimage "image"
	"image/color"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	syntheticWidth  = 1200
	syntheticHeight = 900
)

// SyntheticGenerator paints a deterministic placeholder card for a page. It
// lets the pipeline run end to end without an image provider.
type SyntheticGenerator struct {
	once sync.Once
	face font.Face
	err  error
}

func NewSyntheticGenerator() *SyntheticGenerator {
	return &SyntheticGenerator{}
}

func (s *SyntheticGenerator) fontFace() (font.Face, error) {
	s.once.Do(func() {
		parsed, err := truetype.Parse(goregular.TTF)
		if err != nil {
			s.err = fmt.Errorf("parse embedded font: %w", err)
			return
		}
		s.face = truetype.NewFace(parsed, &truetype.Options{
			Size:    34,
			DPI:     72,
			Hinting: font.HintingNone,
		})
	})
	return s.face, s.err
}

func (s *SyntheticGenerator) Generate(ctx context.Context, req Request) (*Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	face, err := s.fontFace()
	if err != nil {
		return nil, err
	}

	seed := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", req.JobID, req.Page, req.Prompt)))
	bg := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 3)

	dc := gg.NewContext(syntheticWidth, syntheticHeight)
	dc.SetColor(bg)
	dc.Clear()

	// Soft hills along the bottom edge.
	dc.SetColor(accent)
	for i := 0; i < 4; i++ {
		x := float64(int(seed[6+i])%syntheticWidth) + float64(i*syntheticWidth/4)
		r := 180 + float64(seed[10+i]%120)
		dc.DrawCircle(x, syntheticHeight+r/3, r)
		dc.Fill()
	}

	cx, cy := float64(syntheticWidth)/2, float64(syntheticHeight)*0.38
	const radius = 150.0
	if ref := referenceThumbnail(req.Reference, int(radius*2)); ref != nil {
		dc.Push()
		dc.DrawCircle(cx, cy, radius)
		dc.Clip()
		dc.DrawImageAnchored(ref, int(cx), int(cy), 0.5, 0.5)
		dc.ResetClip()
		dc.Pop()
	} else {
		dc.SetColor(color.White)
		dc.DrawCircle(cx, cy, radius)
		dc.Fill()
	}

	dc.SetFontFace(face)
	dc.SetColor(color.RGBA{R: 40, G: 40, B: 60, A: 255})
	caption := strings.TrimSpace(req.Prompt)
	if i := strings.Index(caption, "Scene:"); i >= 0 {
		caption = strings.TrimSpace(caption[i+len("Scene:"):])
	}
	if caption == "" {
		caption = fmt.Sprintf("Page %d", req.Page)
	}
	dc.DrawStringWrapped(caption, cx, float64(syntheticHeight)*0.72, 0.5, 0.5, float64(syntheticWidth)*0.8, 1.4, gg.AlignCenter)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &Asset{
		Format: "image/png",
		Width:  syntheticWidth,
		Height: syntheticHeight,
		Data:   buf.Bytes(),
	}, nil
}

// referenceThumbnail center-crops the reference photo to a square. A photo
// that does not decode is skipped.
func referenceThumbnail(ref *Reference, side int) stdimage.Image {
	if ref == nil || len(ref.Data) == 0 {
		return nil
	}
	img, err := imaging.Decode(bytes.NewReader(ref.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil
	}
	return imaging.Fill(img, side, side, imaging.Center, imaging.Lanczos)
}

func colorFromSeed(seed [32]byte, offset int) color.RGBA {
	// Keep colors light so dark caption text stays readable.
	lift := func(b byte) uint8 { return 140 + b%110 }
	return color.RGBA{R: lift(seed[offset]), G: lift(seed[offset+1]), B: lift(seed[offset+2]), A: 255}
}

var _ Generator = (*SyntheticGenerator)(nil)
