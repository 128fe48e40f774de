package stamp_test

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/digitorus/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YannKr/signflow/internal/stamp"
)

// buildPDF writes a small classic-xref PDF. pagesBox, when set, is put on
// the page tree node and inherited; otherwise each page gets boxes[i].
func buildPDF(t *testing.T, pagesBox string, boxes ...string) []byte {
	t.Helper()
	n := len(boxes)
	fontID := 3 + 2*n
	infoID := fontID + 1

	var objs []string
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	var kids []string
	for i := 0; i < n; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+2*i))
	}
	pages := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d", strings.Join(kids, " "), n)
	if pagesBox != "" {
		pages += " /MediaBox " + pagesBox
	}
	objs = append(objs, pages+" >>")
	for i, mb := range boxes {
		page := "<< /Type /Page /Parent 2 0 R"
		if mb != "" {
			page += " /MediaBox " + mb
		}
		page += fmt.Sprintf(" /Resources << /Font << /F1 %d 0 R >> /ProcSet [/PDF /Text] >> /Contents %d 0 R >>", fontID, 4+2*i)
		objs = append(objs, page)
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Times-Roman >>")
	objs = append(objs, "<< /Producer (fixture) >>")

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f\r\n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n\r\n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, infoID, xref)
	return b.Bytes()
}

func letterPDF(t *testing.T, pages int) []byte {
	boxes := make([]string, pages)
	for i := range boxes {
		boxes[i] = "[0 0 612 792]"
	}
	return buildPDF(t, "", boxes...)
}

func openPDF(t *testing.T, b []byte) *pdf.Reader {
	t.Helper()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	return r
}

func overlayOf(t *testing.T, r *pdf.Reader, page int) string {
	t.Helper()
	contents := r.Page(page).V.Key("Contents")
	require.Equal(t, pdf.Array, contents.Kind())
	require.Equal(t, 3, contents.Len(), "prefix, original, overlay")
	rc := contents.Index(contents.Len() - 1).Reader()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

var signedAt = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

func TestApplyTextMark(t *testing.T) {
	src := letterPDF(t, 1)

	res, err := stamp.Apply(src, []stamp.Mark{{
		Page: 1, X: 50, Y: 700, Width: 200, Height: 50,
		Kind: stamp.KindText, Payload: "Alice A.", Fallback: "a@x.com", SignedAt: signedAt,
	}})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(res.PDF, src), "original bytes are untouched")
	assert.Equal(t, 1, res.PageCount)
	require.Len(t, res.Placed, 1)
	assert.Equal(t, 50.0, res.Placed[0].X)
	assert.Equal(t, 72.0, res.Placed[0].Y)

	r := openPDF(t, res.PDF)
	assert.Equal(t, 1, r.NumPage())
	ov := overlayOf(t, r, 1)
	assert.Contains(t, ov, "/SFHelv 14 Tf\n1 0 0 1 50 72 Tm\n(Alice A.) Tj")
	assert.Contains(t, ov, "0 0 0.6 rg")
	assert.Contains(t, ov, "/SFHelv 8 Tf\n1 0 0 1 50 56 Tm\n(Signed: 3/2/2026) Tj")

	res1 := r.Page(1).V.Key("Resources")
	assert.Equal(t, "Helvetica", res1.Key("Font").Key("SFHelv").Key("BaseFont").Name())
	assert.Equal(t, "Times-Roman", res1.Key("Font").Key("F1").Key("BaseFont").Name())
	assert.Equal(t, 2, res1.Key("ProcSet").Len())
	assert.Equal(t, "fixture", r.Trailer().Key("Info").Key("Producer").RawString())
}

func TestApplyVerticalTransform(t *testing.T) {
	for _, h := range []float64{792, 842, 500} {
		src := buildPDF(t, "", fmt.Sprintf("[0 0 612 %g]", h))
		res, err := stamp.Apply(src, []stamp.Mark{{Page: 1, X: 100, Y: 100, Kind: stamp.KindText, Payload: "Sig"}})
		require.NoError(t, err)
		require.Len(t, res.Placed, 1)
		assert.Equal(t, h-100-20, res.Placed[0].Y, "height %g", h)
	}
}

func TestApplyHonoursInheritedOffsetMediaBox(t *testing.T) {
	src := buildPDF(t, "[10 20 622 812]", "")

	res, err := stamp.Apply(src, []stamp.Mark{{Page: 1, X: 50, Y: 700, Kind: stamp.KindText, Payload: "Alice"}})
	require.NoError(t, err)

	ov := overlayOf(t, openPDF(t, res.PDF), 1)
	assert.Contains(t, ov, "1 0 0 1 60 92 Tm")
}

func pngDataURL(t *testing.T, w, h int, translucent bool) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 200, A: 255})
		}
	}
	if translucent {
		img.SetNRGBA(0, 0, color.NRGBA{A: 0})
	}
	var b bytes.Buffer
	require.NoError(t, png.Encode(&b, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b.Bytes())
}

func TestApplyImageMark(t *testing.T) {
	src := letterPDF(t, 1)

	res, err := stamp.Apply(src, []stamp.Mark{{
		Page: 1, X: 100, Y: 100, Width: 200, Height: 50,
		Kind: stamp.KindDraw, Payload: pngDataURL(t, 4, 2, true), Fallback: "Bob", SignedAt: signedAt,
	}})
	require.NoError(t, err)
	require.Len(t, res.Placed, 1)
	assert.Equal(t, stamp.KindDraw, res.Placed[0].Kind)
	assert.Equal(t, 642.0, res.Placed[0].Y)

	r := openPDF(t, res.PDF)
	ov := overlayOf(t, r, 1)
	assert.Contains(t, ov, "200 0 0 50 100 642 cm\n/SFImg1 Do")
	assert.NotContains(t, ov, "Signed:")

	xobj := r.Page(1).V.Key("Resources").Key("XObject").Key("SFImg1")
	assert.Equal(t, int64(4), xobj.Key("Width").Int64())
	assert.Equal(t, int64(2), xobj.Key("Height").Int64())
	assert.Equal(t, pdf.Stream, xobj.Key("SMask").Kind())
}

func TestApplyOpaqueImageHasNoMask(t *testing.T) {
	src := letterPDF(t, 1)
	raw := strings.TrimPrefix(pngDataURL(t, 3, 3, false), "data:image/png;base64,")

	res, err := stamp.Apply(src, []stamp.Mark{{Page: 1, X: 0, Y: 0, Width: 30, Height: 30, Kind: stamp.KindImage, Payload: raw}})
	require.NoError(t, err)

	xobj := openPDF(t, res.PDF).Page(1).V.Key("Resources").Key("XObject").Key("SFImg1")
	assert.Equal(t, pdf.Null, xobj.Key("SMask").Kind())
}

func TestApplyBadImageFallsBackToName(t *testing.T) {
	src := letterPDF(t, 1)

	res, err := stamp.Apply(src, []stamp.Mark{{
		Page: 1, X: 100, Y: 100, Width: 200, Height: 50,
		Kind: stamp.KindDraw, Payload: "data:image/png;base64,@@not-base64@@", Fallback: "Bob",
	}})
	require.NoError(t, err)
	require.Len(t, res.Placed, 1)
	assert.Equal(t, stamp.KindText, res.Placed[0].Kind)

	ov := overlayOf(t, openPDF(t, res.PDF), 1)
	assert.Contains(t, ov, "1 0 0 1 100 672 Tm\n(Bob) Tj")
}

func TestApplySkipsMissingPages(t *testing.T) {
	src := letterPDF(t, 2)

	res, err := stamp.Apply(src, []stamp.Mark{
		{Page: 5, X: 1, Y: 1, Kind: stamp.KindText, Payload: "ghost"},
		{Page: 2, X: 50, Y: 700, Kind: stamp.KindText, Payload: "Alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Skipped)
	require.Len(t, res.Placed, 1)
	assert.Equal(t, 2, res.Placed[0].Page)

	r := openPDF(t, res.PDF)
	assert.Equal(t, 2, r.NumPage())
	assert.Equal(t, pdf.Stream, r.Page(1).V.Key("Contents").Kind(), "untouched page keeps its content")
	assert.Contains(t, overlayOf(t, r, 2), "(Alice) Tj")
}

func TestApplyOnlySkippedMarksReturnsCopy(t *testing.T) {
	src := letterPDF(t, 1)

	res, err := stamp.Apply(src, []stamp.Mark{{Page: 3, Kind: stamp.KindText, Payload: "x"}})
	require.NoError(t, err)
	assert.Equal(t, src, res.PDF)
	res.PDF[0] = 'X'
	assert.Equal(t, byte('%'), src[0])
}

func TestApplyIsDeterministic(t *testing.T) {
	src := letterPDF(t, 2)
	marks := []stamp.Mark{
		{Page: 1, X: 50, Y: 700, Width: 200, Height: 50, Kind: stamp.KindText, Payload: "Alice", SignedAt: signedAt},
		{Page: 2, X: 300, Y: 650, Width: 120, Height: 40, Kind: stamp.KindDraw, Payload: pngDataURL(t, 5, 5, true)},
		{Page: 1, X: 300, Y: 700, Width: 200, Height: 50, Kind: stamp.KindText, Payload: "Bob", SignedAt: signedAt},
	}

	a, err := stamp.Apply(src, marks)
	require.NoError(t, err)
	b, err := stamp.Apply(src, marks)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a.PDF, b.PDF))
	assert.Equal(t, a.Placed, b.Placed)
	assert.Equal(t, a.PageCount, b.PageCount)
}

func TestApplyEscapesText(t *testing.T) {
	src := letterPDF(t, 1)

	res, err := stamp.Apply(src, []stamp.Mark{{Page: 1, X: 10, Y: 10, Kind: stamp.KindText, Payload: `O'Brien (CEO) \ é 漢`}})
	require.NoError(t, err)

	ov := overlayOf(t, openPDF(t, res.PDF), 1)
	assert.Contains(t, ov, `(O'Brien \(CEO\) \\ \351 ?) Tj`)
}

func TestApplyStacksUpdates(t *testing.T) {
	src := letterPDF(t, 1)
	first, err := stamp.Apply(src, []stamp.Mark{{Page: 1, X: 50, Y: 700, Kind: stamp.KindText, Payload: "Alice"}})
	require.NoError(t, err)

	second, err := stamp.Apply(first.PDF, []stamp.Mark{{Page: 1, X: 300, Y: 700, Kind: stamp.KindText, Payload: "Bob"}})
	require.NoError(t, err)

	r := openPDF(t, second.PDF)
	assert.Equal(t, 1, r.NumPage())
	contents := r.Page(1).V.Key("Contents")
	require.Equal(t, 5, contents.Len())
}

func TestApplyRejectsCorruptInput(t *testing.T) {
	src := letterPDF(t, 1)

	_, err := stamp.Apply([]byte("this is not a pdf"), nil)
	assert.Error(t, err)

	_, err = stamp.Apply(src[:len(src)/2], []stamp.Mark{{Page: 1, Kind: stamp.KindText, Payload: "x"}})
	assert.Error(t, err)

	_, err = stamp.PageCount(nil)
	assert.Error(t, err)
}

func TestPageCount(t *testing.T) {
	n, err := stamp.PageCount(letterPDF(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
