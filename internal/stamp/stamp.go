// Package stamp burns signature marks into PDF pages.
//
// Output is the original file followed by one incremental update that
// rewrites only the touched page objects, so the original bytes are kept
// verbatim as a prefix.
package stamp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/digitorus/pdf"
)

type Kind string

const (
	KindText  Kind = "text"
	KindDraw  Kind = "draw"
	KindImage Kind = "image"
)

// Mark is one signature to draw. Geometry is in top-left-origin viewer
// units: X, Y is the top-left corner of the field.
type Mark struct {
	Page          int
	X, Y          float64
	Width, Height float64
	Kind          Kind
	// Payload is the signature text, or base64 image data (optionally a
	// data URL) for draw and image marks.
	Payload string
	// Fallback is drawn as text when an image payload cannot be used.
	Fallback string
	SignedAt time.Time
}

// Placement records where a mark ended up in page space. X, Y is the text
// baseline origin or the image's lower-left corner.
type Placement struct {
	Mark   int
	Page   int
	Kind   Kind
	X, Y   float64
	Width  float64
	Height float64
	Text   string
}

type Result struct {
	PDF       []byte
	PageCount int
	Placed    []Placement
	// Skipped holds the indexes of marks whose page does not exist.
	Skipped []int
}

var ErrEncrypted = errors.New("encrypted PDFs are not supported")

// PageCount parses src and returns its number of pages.
func PageCount(src []byte) (n int, err error) {
	defer recoverParse(&err)
	r, err := pdf.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return r.NumPage(), nil
}

// Apply draws marks onto a copy of src. Marks targeting a page that does
// not exist are skipped. A mark whose image cannot be decoded is drawn as
// its fallback text.
func Apply(src []byte, marks []Mark) (res *Result, err error) {
	defer recoverParse(&err)

	r, err := pdf.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	trailer := r.Trailer()
	if trailer.Key("Encrypt").Kind() != pdf.Null {
		return nil, ErrEncrypted
	}
	prev, err := lastStartXref(src)
	if err != nil {
		return nil, err
	}

	res = &Result{PageCount: r.NumPage()}
	byPage := map[int][]int{}
	for i, m := range marks {
		if m.Page < 1 || m.Page > res.PageCount {
			res.Skipped = append(res.Skipped, i)
			continue
		}
		byPage[m.Page] = append(byPage[m.Page], i)
	}
	if len(byPage) == 0 {
		res.PDF = append([]byte(nil), src...)
		return res, nil
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	base := int64(len(src))
	sep := []byte(nil)
	if src[len(src)-1] != '\n' && src[len(src)-1] != '\r' {
		sep = []byte("\n")
		base++
	}
	u := newUpdate(base)
	alloc := newAllocator(uint32(trailer.Key("Size").Int64()))

	var font ref
	fontRef := func() ref {
		if font.id == 0 {
			font = alloc.next()
			u.object(font, []byte("<</Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding>>"))
		}
		return font
	}

	imageSeq := 0
	for _, pageNum := range pages {
		page := r.Page(pageNum).V
		pageRef := refOf(page)
		if pageRef.id == 0 {
			return nil, fmt.Errorf("page %d is not an indirect object", pageNum)
		}
		media := mediaBox(page)
		t := newViewerToPage(media)

		var ov overlay
		images := map[string]ref{}
		usesFont := false

		for _, i := range byPage[pageNum] {
			m := marks[i]
			if m.Kind == KindDraw || m.Kind == KindImage {
				img, derr := decodePayload(m.Payload)
				if derr == nil {
					imageSeq++
					name := "SFImg" + strconv.Itoa(imageSeq)
					imgRef, werr := writeImage(u, alloc, img)
					if werr != nil {
						return nil, werr
					}
					images[name] = imgRef
					x, y := t.apply(m.X, m.Y+m.Height)
					ov.image(name, x, y, m.Width, m.Height)
					res.Placed = append(res.Placed, Placement{Mark: i, Page: pageNum, Kind: m.Kind,
						X: x, Y: y, Width: round2(m.Width), Height: round2(m.Height)})
					continue
				}
				x, y := t.apply(m.X, m.Y+textOffset)
				ov.text(x, y, textSize, inkColor, m.Fallback)
				usesFont = true
				res.Placed = append(res.Placed, Placement{Mark: i, Page: pageNum, Kind: KindText,
					X: x, Y: y, Text: m.Fallback})
				continue
			}

			text := m.Payload
			if text == "" {
				text = m.Fallback
			}
			x, y := t.apply(m.X, m.Y+textOffset)
			ov.text(x, y, textSize, inkColor, text)
			res.Placed = append(res.Placed, Placement{Mark: i, Page: pageNum, Kind: KindText, X: x, Y: y, Text: text})
			if !m.SignedAt.IsZero() {
				dx, dy := t.apply(m.X, m.Y+dateOffset)
				ov.text(dx, dy, dateSize, dateColor, "Signed: "+m.SignedAt.UTC().Format("1/2/2006"))
			}
			usesFont = true
		}

		var fonts map[string]ref
		if usesFont {
			fonts = map[string]ref{fontResource: fontRef()}
		}

		prefix := alloc.next()
		u.stream(prefix, "", []byte("q\n"))
		content := alloc.next()
		u.stream(content, "", ov.bytes())

		body, err := rewritePage(page, pageRef, prefix, content, fonts, images)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNum, err)
		}
		u.object(pageRef, body)
	}

	entries, err := trailerEntries(trailer, prev)
	if err != nil {
		return nil, err
	}
	if xrefIsStream(src, prev) {
		xr := alloc.next()
		u.finishStream(xr, alloc.size(), entries)
	} else {
		u.finish(fmt.Sprintf("<</Size %d%s>>", alloc.size(), entries))
	}

	out := make([]byte, 0, len(src)+len(sep)+u.buf.Len())
	out = append(out, src...)
	out = append(out, sep...)
	out = append(out, u.buf.Bytes()...)
	res.PDF = out
	return res, nil
}

type allocator struct {
	n uint32
}

func newAllocator(size uint32) *allocator {
	if size == 0 {
		size = 1
	}
	return &allocator{n: size}
}

func (a *allocator) next() ref {
	r := ref{id: a.n}
	a.n++
	return r
}

func (a *allocator) size() uint32 { return a.n }

func writeImage(u *update, alloc *allocator, img *rasterImage) (ref, error) {
	data, err := deflate(img.rgb)
	if err != nil {
		return ref{}, fmt.Errorf("compress image: %w", err)
	}
	smask := ""
	if img.alpha != nil {
		alpha, err := deflate(img.alpha)
		if err != nil {
			return ref{}, fmt.Errorf("compress mask: %w", err)
		}
		m := alloc.next()
		u.stream(m, fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode",
			img.width, img.height), alpha)
		smask = " /SMask " + m.String()
	}
	r := alloc.next()
	u.stream(r, fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /FlateDecode%s",
		img.width, img.height, smask), data)
	return r, nil
}

// rewritePage serialises the page dictionary with its content wrapped
// between prefix and overlay and its resources extended.
func rewritePage(page pdf.Value, self, prefix, overlay ref, fonts, images map[string]ref) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("<<")
	for _, k := range page.Keys() {
		if k == "Contents" || k == "Resources" {
			continue
		}
		writeName(&b, k)
		b.WriteByte(' ')
		if err := writeChild(&b, page.Key(k), self); err != nil {
			return nil, err
		}
	}

	b.WriteString("/Contents [")
	b.WriteString(prefix.String())
	contents := page.Key("Contents")
	switch contents.Kind() {
	case pdf.Stream:
		b.WriteString(" " + refOf(contents).String())
	case pdf.Array:
		for i := 0; i < contents.Len(); i++ {
			if c := contents.Index(i); c.Kind() == pdf.Stream {
				b.WriteString(" " + refOf(c).String())
			}
		}
	}
	b.WriteString(" " + overlay.String() + "]")

	b.WriteString("/Resources ")
	if err := writeResources(&b, inherited(page, "Resources"), fonts, images); err != nil {
		return nil, err
	}
	b.WriteString(">>")
	return b.Bytes(), nil
}

func writeResources(b *bytes.Buffer, res pdf.Value, fonts, images map[string]ref) error {
	self := refOf(res)
	b.WriteString("<<")
	seen := map[string]bool{}
	if res.Kind() == pdf.Dict {
		for _, k := range res.Keys() {
			writeName(b, k)
			b.WriteByte(' ')
			var err error
			switch k {
			case "Font":
				seen[k] = true
				err = writeMergedDict(b, res.Key(k), fonts)
			case "XObject":
				seen[k] = true
				err = writeMergedDict(b, res.Key(k), images)
			default:
				err = writeChild(b, res.Key(k), self)
			}
			if err != nil {
				return err
			}
		}
	}
	if !seen["Font"] && len(fonts) > 0 {
		b.WriteString("/Font ")
		if err := writeMergedDict(b, pdf.Value{}, fonts); err != nil {
			return err
		}
	}
	if !seen["XObject"] && len(images) > 0 {
		b.WriteString("/XObject ")
		if err := writeMergedDict(b, pdf.Value{}, images); err != nil {
			return err
		}
	}
	b.WriteString(">>")
	return nil
}

// writeMergedDict writes the entries of d plus extra, extra winning on
// name clashes.
func writeMergedDict(b *bytes.Buffer, d pdf.Value, extra map[string]ref) error {
	self := refOf(d)
	b.WriteString("<<")
	if d.Kind() == pdf.Dict {
		for _, k := range d.Keys() {
			if _, clash := extra[k]; clash {
				continue
			}
			writeName(b, k)
			b.WriteByte(' ')
			if err := writeChild(b, d.Key(k), self); err != nil {
				return err
			}
		}
	}
	names := make([]string, 0, len(extra))
	for k := range extra {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		writeName(b, k)
		b.WriteString(" " + extra[k].String())
	}
	b.WriteString(">>")
	return nil
}

// inherited looks key up on the page and then its ancestors.
func inherited(page pdf.Value, key string) pdf.Value {
	v := page
	for depth := 0; depth < 32 && v.Kind() == pdf.Dict; depth++ {
		if x := v.Key(key); x.Kind() != pdf.Null {
			return x
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

var letterBox = box{0, 0, 612, 792}

func mediaBox(page pdf.Value) box {
	mb := inherited(page, "MediaBox")
	if mb.Kind() != pdf.Array || mb.Len() != 4 {
		return letterBox
	}
	x0, y0 := mb.Index(0).Float64(), mb.Index(1).Float64()
	x1, y1 := mb.Index(2).Float64(), mb.Index(3).Float64()
	b := box{llx: min(x0, x1), lly: min(y0, y1), urx: max(x0, x1), ury: max(y0, y1)}
	if b.height() <= 0 || b.urx-b.llx <= 0 {
		return letterBox
	}
	return b
}

// trailerEntries carries /Root, /Info and /ID over from the original
// trailer and chains the new section to it through /Prev.
func trailerEntries(orig pdf.Value, prev int64) (string, error) {
	self := refOf(orig)
	var b bytes.Buffer
	for _, k := range []string{"Root", "Info", "ID"} {
		v := orig.Key(k)
		if v.Kind() == pdf.Null {
			if k == "Root" {
				return "", errors.New("trailer has no /Root")
			}
			continue
		}
		b.WriteString(" /" + k + " ")
		if err := writeChild(&b, v, self); err != nil {
			return "", err
		}
	}
	fmt.Fprintf(&b, " /Prev %d", prev)
	return b.String(), nil
}

// xrefIsStream reports whether the section at offset is a cross-reference
// stream rather than a classic table. Updates must use the same form.
func xrefIsStream(src []byte, offset int64) bool {
	if offset < 0 || offset >= int64(len(src)) {
		return false
	}
	return !bytes.HasPrefix(bytes.TrimLeft(src[offset:], " \t\r\n"), []byte("xref"))
}

// lastStartXref returns the offset named by the final startxref keyword.
func lastStartXref(src []byte) (int64, error) {
	i := bytes.LastIndex(src, []byte("startxref"))
	if i < 0 {
		return 0, errors.New("startxref not found")
	}
	rest := bytes.TrimLeft(src[i+len("startxref"):], " \t\r\n")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, errors.New("malformed startxref")
	}
	return strconv.ParseInt(string(rest[:end]), 10, 64)
}

func recoverParse(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("malformed pdf: %v", r)
	}
}
