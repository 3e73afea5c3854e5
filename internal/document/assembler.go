// Package document renders a finished story into a printable PDF.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/goregular"
)

const fontFamily = "GoRegular"

// Spread is one page of the book: an illustration and the text under it.
type Spread struct {
	Narration string
	Image     []byte
}

// Layout holds page geometry in millimetres and type sizes in points.
type Layout struct {
	PageSize       string
	Margin         float64
	ImageMaxHeight float64
	Gap            float64
	MaxFontSize    float64
	MinFontSize    float64
	LineSpacing    float64
	MaxImagePixels int
}

// DefaultLayout is A4 portrait with the illustration in the upper half.
var DefaultLayout = Layout{
	PageSize:       "A4",
	Margin:         18,
	ImageMaxHeight: 150,
	Gap:            10,
	MaxFontSize:    16,
	MinFontSize:    10,
	LineSpacing:    1.4,
	MaxImagePixels: 1600,
}

type Options struct {
	Title   string
	Layout  Layout
	ModTime time.Time
}

// Assembler builds one PDF page per spread with an embedded font, so the
// output renders the same on any viewer.
type Assembler struct {
	title   string
	layout  Layout
	modTime time.Time
}

func NewAssembler(opts Options) *Assembler {
	layout := opts.Layout
	if layout.PageSize == "" {
		layout = DefaultLayout
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = "My Storybook"
	}
	return &Assembler{title: title, layout: layout, modTime: opts.ModTime}
}

// Assemble renders spreads in order and returns the PDF bytes.
func (a *Assembler) Assemble(ctx context.Context, spreads []Spread) ([]byte, error) {
	if len(spreads) == 0 {
		return nil, errors.New("document: no pages to assemble")
	}
	l := a.layout

	pdf := fpdf.New("P", "mm", l.PageSize, "")
	pdf.SetTitle(a.title, true)
	pdf.SetCreator("storybook", true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(l.Margin, l.Margin, l.Margin)
	if !a.modTime.IsZero() {
		pdf.SetCreationDate(a.modTime)
		pdf.SetModificationDate(a.modTime)
	}
	pdf.AddUTF8FontFromBytes(fontFamily, "", goregular.TTF)
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("document: load font: %w", err)
	}

	pageW, pageH := pdf.GetPageSize()
	textW := pageW - 2*l.Margin
	textTop := l.Margin + l.ImageMaxHeight + l.Gap
	footerH := 8.0
	textH := pageH - l.Margin - footerH - textTop

	for i, spread := range spreads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		narration := strings.TrimSpace(spread.Narration)
		if narration == "" {
			return nil, fmt.Errorf("document: page %d has no narration", i+1)
		}
		img, err := a.prepareImage(spread.Image)
		if err != nil {
			return nil, fmt.Errorf("document: page %d: %w", i+1, err)
		}

		pdf.AddPage()

		name := fmt.Sprintf("page-%d", i+1)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(88)); err != nil {
			return nil, fmt.Errorf("document: page %d: encode illustration: %w", i+1, err)
		}
		opts := fpdf.ImageOptions{ImageType: "JPEG"}
		pdf.RegisterImageOptionsReader(name, opts, &buf)
		b := img.Bounds()
		x, y, w, h := FitRect(float64(b.Dx()), float64(b.Dy()), l.Margin, l.Margin, textW, l.ImageMaxHeight)
		pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")

		size, lines := fitNarration(pdf, narration, textW, textH, l)
		pdf.SetFont(fontFamily, "", size)
		pdf.SetTextColor(40, 40, 60)
		lineH := lineHeight(size, l.LineSpacing)
		for j, line := range lines {
			pdf.SetXY(l.Margin, textTop+float64(j)*lineH)
			pdf.CellFormat(textW, lineH, line, "", 0, "C", false, 0, "")
		}

		pdf.SetFont(fontFamily, "", 9)
		pdf.SetTextColor(140, 140, 150)
		pdf.SetXY(l.Margin, pageH-l.Margin-footerH/2)
		pdf.CellFormat(textW, footerH/2, fmt.Sprintf("%d", i+1), "", 0, "C", false, 0, "")

		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("document: page %d: %w", i+1, err)
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("document: write pdf: %w", err)
	}
	return out.Bytes(), nil
}

// prepareImage decodes the illustration, caps its longest side and flattens
// transparency onto white.
func (a *Assembler) prepareImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("missing illustration")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode illustration: %w", err)
	}
	if max := a.layout.MaxImagePixels; max > 0 {
		b := img.Bounds()
		if b.Dx() > max || b.Dy() > max {
			img = imaging.Fit(img, max, max, imaging.Lanczos)
		}
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0), nil
}

// FitRect scales a srcW x srcH image to fit inside the box while keeping its
// aspect ratio, and centers it there.
func FitRect(srcW, srcH, boxX, boxY, boxW, boxH float64) (x, y, w, h float64) {
	if srcW <= 0 || srcH <= 0 || boxW <= 0 || boxH <= 0 {
		return boxX, boxY, 0, 0
	}
	scale := boxW / srcW
	if s := boxH / srcH; s < scale {
		scale = s
	}
	w, h = srcW*scale, srcH*scale
	return boxX + (boxW-w)/2, boxY + (boxH-h)/2, w, h
}

// lineHeight converts a point size to a baseline-to-baseline distance in mm.
func lineHeight(size, spacing float64) float64 {
	return size * spacing * 25.4 / 72
}

// fitNarration shrinks the font one point at a time until the text fits the
// box. At the minimum size any remaining overflow is cut at a word boundary
// and marked with an ellipsis.
func fitNarration(pdf *fpdf.Fpdf, text string, width, height float64, l Layout) (float64, []string) {
	for size := l.MaxFontSize; size >= l.MinFontSize; size-- {
		pdf.SetFont(fontFamily, "", size)
		lines := splitLines(pdf, text, width)
		if float64(len(lines))*lineHeight(size, l.LineSpacing) <= height {
			return size, lines
		}
	}

	size := l.MinFontSize
	pdf.SetFont(fontFamily, "", size)
	lines := splitLines(pdf, text, width)
	maxLines := int(height / lineHeight(size, l.LineSpacing))
	if maxLines < 1 {
		maxLines = 1
	}
	if len(lines) <= maxLines {
		return size, lines
	}
	lines = lines[:maxLines]
	lines[maxLines-1] = ellipsize(pdf, lines[maxLines-1], width)
	return size, lines
}

func splitLines(pdf *fpdf.Fpdf, text string, width float64) []string {
	var out []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, line := range pdf.SplitText(para, width) {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

func ellipsize(pdf *fpdf.Fpdf, line string, width float64) string {
	const mark = "…"
	for {
		candidate := strings.TrimRightFunc(line, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsPunct(r)
		}) + mark
		if pdf.GetStringWidth(candidate) <= width || line == "" {
			return candidate
		}
		cut := strings.LastIndexFunc(line, unicode.IsSpace)
		if cut <= 0 {
			r := []rune(line)
			line = string(r[:len(r)-1])
			continue
		}
		line = line[:cut]
	}
}
