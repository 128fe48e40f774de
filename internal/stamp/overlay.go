package stamp

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

const (
	fontResource = "SFHelv"

	textSize       = 14
	dateSize       = 8
	textOffset     = 20
	dateOffset     = 36
	maxImagePixels = 4096 * 4096
)

// Signature ink and date colours as DeviceRGB components.
var (
	inkColor  = [3]float64{0, 0, 0.6}
	dateColor = [3]float64{0.4, 0.4, 0.4}
)

// overlay builds the content stream drawn over one page.
type overlay struct {
	content bytes.Buffer
}

func (o *overlay) text(x, y float64, size int, rgb [3]float64, s string) {
	fmt.Fprintf(&o.content, "%s %s %s rg\nBT\n/%s %d Tf\n1 0 0 1 %s %s Tm\n(%s) Tj\nET\n",
		formatNumber(rgb[0]), formatNumber(rgb[1]), formatNumber(rgb[2]),
		fontResource, size, formatNumber(x), formatNumber(y), escapeText(s))
}

func (o *overlay) image(name string, x, y, w, h float64) {
	fmt.Fprintf(&o.content, "q\n%s 0 0 %s %s %s cm\n/%s Do\nQ\n",
		formatNumber(w), formatNumber(h), formatNumber(x), formatNumber(y), name)
}

// bytes wraps the overlay so it is drawn with the default graphics state
// left by the "q" stream placed before the page's own content.
func (o *overlay) bytes() []byte {
	var b bytes.Buffer
	b.WriteString("\nQ\nq\n")
	b.Write(o.content.Bytes())
	b.WriteString("Q\n")
	return b.Bytes()
}

// escapeText encodes s as WinAnsi and escapes it for a literal string.
// Characters outside the encoding become '?'.
func escapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
		}
		switch {
		case c == '(' || c == ')' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// rasterImage is a decoded signature image ready to embed.
type rasterImage struct {
	width, height int
	rgb           []byte
	// alpha is nil when every pixel is opaque.
	alpha []byte
}

// decodePayload accepts a bare base64 string or a data URL.
func decodePayload(payload string) (*rasterImage, error) {
	data := strings.TrimSpace(payload)
	if strings.HasPrefix(data, "data:") {
		i := strings.IndexByte(data, ',')
		if i < 0 {
			return nil, errors.New("data URL without payload")
		}
		data = data[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(data); err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxImagePixels {
		return nil, fmt.Errorf("image size %dx%d out of range", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := &rasterImage{width: w, height: h, rgb: make([]byte, 0, w*h*3)}
	alpha := make([]byte, 0, w*h)
	opaque := true
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.rgb = append(out.rgb, c.R, c.G, c.B)
			alpha = append(alpha, c.A)
			if c.A != 0xff {
				opaque = false
			}
		}
	}
	if !opaque {
		out.alpha = alpha
	}
	return out, nil
}

func deflate(data []byte) ([]byte, error) {
	var b bytes.Buffer
	zw, err := zlib.NewWriterLevel(&b, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
