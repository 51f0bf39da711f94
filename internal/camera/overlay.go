package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi      float64 = 72
	fontSize float64 = 14
	margin           = 6
)

// OverlayInfo is the data drawn on a frame
type OverlayInfo struct {
	Time             time.Time
	Distance         *float64 // meters
	BatteryVoltage   *float64 // V
	BatteryRemaining *int64   // percent
	ControlEnabled   bool
}

// Overlay draws an on-screen display line at the bottom of JPEG frames
type Overlay struct {
	mu       sync.Mutex // freetype.Context is not safe for concurrent use
	context  *freetype.Context
	fontFace font.Face
	quality  int
}

// NewOverlay creates an Overlay re-encoding frames at the given JPEG quality
func NewOverlay(quality int) (*Overlay, error) {
	if quality < 1 || quality > 100 {
		return nil, NewConfigError(fmt.Sprintf("camera: JPEG quality must be between 1 and 100: %d given", quality))
	}

	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(fontSize)
	ctx.SetHinting(font.HintingFull)
	ctx.SetSrc(image.White)

	return &Overlay{
		context: ctx,
		quality: quality,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    fontSize,
			DPI:     dpi,
			Hinting: font.HintingFull,
		}),
	}, nil
}

// Close releases the font face
func (o *Overlay) Close() error {
	if o.fontFace != nil {
		return o.fontFace.Close()
	}
	return nil
}

// Annotate decodes a JPEG frame, draws the info line and re-encodes it
func (o *Overlay) Annotate(frame []byte, info OverlayInfo) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	bounds := src.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, src, bounds.Min, draw.Src)

	if err = o.drawInfoBar(img, info); err != nil {
		return nil, fmt.Errorf("drawing info bar: %w", err)
	}

	var buf bytes.Buffer
	if err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.quality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (o *Overlay) drawInfoBar(img *image.RGBA, info OverlayInfo) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	metrics := o.fontFace.Metrics()
	fontHeight := (metrics.Ascent + metrics.Descent).Round()

	bounds := img.Bounds()
	bar := image.Rect(bounds.Min.X, bounds.Max.Y-fontHeight-2*margin, bounds.Max.X, bounds.Max.Y)
	draw.Draw(img, bar, &image.Uniform{C: color.RGBA{A: 160}}, image.Point{}, draw.Over)

	o.context.SetClip(bounds)
	o.context.SetDst(img)

	pt := freetype.Pt(bounds.Min.X+margin, bounds.Max.Y-margin-metrics.Descent.Round())
	if _, err := o.context.DrawString(formatInfo(info), pt); err != nil {
		return err
	}
	return nil
}

func formatInfo(info OverlayInfo) string {
	var sb strings.Builder

	sb.WriteString(info.Time.Format(time.TimeOnly))

	sb.WriteString("  ALT ")
	if info.Distance != nil {
		sb.WriteString(humanize.FtoaWithDigits(*info.Distance, 2))
		sb.WriteString(" m")
	} else {
		sb.WriteString("--")
	}

	sb.WriteString("  BAT ")
	switch {
	case info.BatteryVoltage != nil && info.BatteryRemaining != nil:
		sb.WriteString(fmt.Sprintf("%0.2f V %d%%", *info.BatteryVoltage, *info.BatteryRemaining))
	case info.BatteryVoltage != nil:
		sb.WriteString(fmt.Sprintf("%0.2f V", *info.BatteryVoltage))
	default:
		sb.WriteString("--")
	}

	if info.ControlEnabled {
		sb.WriteString("  RC ON")
	} else {
		sb.WriteString("  RC OFF")
	}

	return sb.String()
}
