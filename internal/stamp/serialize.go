package stamp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/digitorus/pdf"
)

// ref is an indirect object reference.
type ref struct {
	id  uint32
	gen uint16
}

func (r ref) String() string { return fmt.Sprintf("%d %d R", r.id, r.gen) }

func refOf(v pdf.Value) ref {
	p := v.GetPtr()
	return ref{id: p.GetID(), gen: p.GetGen()}
}

// writeChild writes v as it appears inside the object identified by
// container. The reader hands direct children their parent's pointer, so a
// different pointer means v was reached through an indirect reference.
func writeChild(b *bytes.Buffer, v pdf.Value, container ref) error {
	if r := refOf(v); r.id != 0 && r != container {
		b.WriteString(r.String())
		return nil
	}
	return writeDirect(b, v)
}

// writeDirect writes the value itself, emitting references for any child
// that lives in another object.
func writeDirect(b *bytes.Buffer, v pdf.Value) error {
	self := refOf(v)
	switch v.Kind() {
	case pdf.Null:
		b.WriteString("null")
	case pdf.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case pdf.Integer:
		b.WriteString(strconv.FormatInt(v.Int64(), 10))
	case pdf.Real:
		b.WriteString(formatNumber(v.Float64()))
	case pdf.String:
		b.WriteByte('<')
		b.WriteString(hex.EncodeToString([]byte(v.RawString())))
		b.WriteByte('>')
	case pdf.Name:
		writeName(b, v.Name())
	case pdf.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			if err := writeChild(b, v.Index(i), self); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case pdf.Dict:
		b.WriteString("<<")
		for _, k := range v.Keys() {
			writeName(b, k)
			b.WriteByte(' ')
			if err := writeChild(b, v.Key(k), self); err != nil {
				return err
			}
		}
		b.WriteString(">>")
	case pdf.Stream:
		return fmt.Errorf("stream object %d cannot be written inline", self.id)
	default:
		return fmt.Errorf("unsupported object kind %v", v.Kind())
	}
	return nil
}

func writeName(b *bytes.Buffer, name string) {
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < '!' || c > '~' || bytes.IndexByte([]byte("#()<>[]{}/%"), c) >= 0 {
			fmt.Fprintf(b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
}

// formatNumber writes v with at most two decimals and no exponent.
func formatNumber(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', -1, 64)
}

type xrefEntry struct {
	offset int64
	gen    uint16
}

// update accumulates the objects of one incremental update section whose
// first byte lands at base in the final file.
type update struct {
	buf     bytes.Buffer
	base    int64
	entries map[uint32]xrefEntry
}

func newUpdate(base int64) *update {
	return &update{base: base, entries: map[uint32]xrefEntry{}}
}

func (u *update) offset() int64 { return u.base + int64(u.buf.Len()) }

// object writes "id gen obj <body> endobj".
func (u *update) object(r ref, body []byte) {
	u.entries[r.id] = xrefEntry{offset: u.offset(), gen: r.gen}
	fmt.Fprintf(&u.buf, "%d %d obj\n", r.id, r.gen)
	u.buf.Write(body)
	u.buf.WriteString("\nendobj\n")
}

// stream writes a stream object; dict holds the entries other than /Length.
func (u *update) stream(r ref, dict string, data []byte) {
	u.entries[r.id] = xrefEntry{offset: u.offset(), gen: r.gen}
	fmt.Fprintf(&u.buf, "%d %d obj\n<<%s /Length %d>>\nstream\n", r.id, r.gen, dict, len(data))
	u.buf.Write(data)
	u.buf.WriteString("\nendstream\nendobj\n")
}

// subsections groups the sorted object numbers into contiguous runs.
func (u *update) subsections() [][]uint32 {
	ids := make([]uint32, 0, len(u.entries))
	for id := range u.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var runs [][]uint32
	for start := 0; start < len(ids); {
		end := start + 1
		for end < len(ids) && ids[end] == ids[end-1]+1 {
			end++
		}
		runs = append(runs, ids[start:end])
		start = end
	}
	return runs
}

// finish appends a classic cross-reference table and trailer.
func (u *update) finish(trailer string) {
	xrefAt := u.offset()
	u.buf.WriteString("xref\n")
	for _, run := range u.subsections() {
		fmt.Fprintf(&u.buf, "%d %d\n", run[0], len(run))
		for _, id := range run {
			e := u.entries[id]
			fmt.Fprintf(&u.buf, "%010d %05d n\r\n", e.offset, e.gen)
		}
	}
	fmt.Fprintf(&u.buf, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xrefAt)
}

// finishStream appends a cross-reference stream as object xr. entries are
// the trailer keys other than /Size.
func (u *update) finishStream(xr ref, size uint32, entries string) {
	xrefAt := u.offset()
	u.entries[xr.id] = xrefEntry{offset: xrefAt, gen: xr.gen}

	var index bytes.Buffer
	var data bytes.Buffer
	for i, run := range u.subsections() {
		if i > 0 {
			index.WriteByte(' ')
		}
		fmt.Fprintf(&index, "%d %d", run[0], len(run))
		for _, id := range run {
			e := u.entries[id]
			data.WriteByte(1)
			var rec [6]byte
			binary.BigEndian.PutUint32(rec[:4], uint32(e.offset))
			binary.BigEndian.PutUint16(rec[4:], e.gen)
			data.Write(rec[:])
		}
	}

	fmt.Fprintf(&u.buf, "%d %d obj\n<</Type /XRef /Size %d /W [1 4 2] /Index [%s]%s /Length %d>>\nstream\n",
		xr.id, xr.gen, size, index.String(), entries, data.Len())
	u.buf.Write(data.Bytes())
	fmt.Fprintf(&u.buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefAt)
}
