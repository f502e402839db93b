package dicomdir

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DICOMDIR offsets are absolute byte positions in the file. suyashkumar/dicom
// does not report where it wrote an element, so after writing, the encoded
// bytes are walked again to find every directory record item and the value
// positions of its offset elements. The walker understands explicit VR
// little endian only, which is the transfer syntax the writer uses.

const (
	undefinedLength = 0xFFFFFFFF
	preambleLen     = 132
)

type tagPair struct {
	group, element uint16
}

var (
	itemTag             = tagPair{0xFFFE, 0xE000}
	itemDelimTag        = tagPair{0xFFFE, 0xE00D}
	seqDelimTag         = tagPair{0xFFFE, 0xE0DD}
	firstRootTag        = tagPair{0x0004, 0x1200}
	lastRootTag         = tagPair{0x0004, 0x1202}
	recordSequenceTag   = tagPair{0x0004, 0x1220}
	nextRecordTag       = tagPair{0x0004, 0x1400}
	lowerLevelRecordTag = tagPair{0x0004, 0x1420}
)

var errTruncated = errors.New("truncated DICOMDIR data")

type elemHeader struct {
	tag      tagPair
	vr       string
	length   uint32
	valuePos int
}

// recordLayout locates one directory record item in the encoded file.
type recordLayout struct {
	offset   uint32
	nextPos  int
	lowerPos int
}

// fileLayout locates everything the offset patcher rewrites.
type fileLayout struct {
	firstRootPos int
	lastRootPos  int
	records      []recordLayout
}

type walker struct {
	data []byte
}

func hasLongLength(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

func (w *walker) tagAt(pos int) (tagPair, error) {
	if pos+4 > len(w.data) {
		return tagPair{}, errTruncated
	}
	return tagPair{
		group:   binary.LittleEndian.Uint16(w.data[pos:]),
		element: binary.LittleEndian.Uint16(w.data[pos+2:]),
	}, nil
}

// header decodes the element header at pos. Item and delimiter tags carry
// no VR.
func (w *walker) header(pos int) (elemHeader, error) {
	t, err := w.tagAt(pos)
	if err != nil {
		return elemHeader{}, err
	}
	if t.group == 0xFFFE {
		if pos+8 > len(w.data) {
			return elemHeader{}, errTruncated
		}
		return elemHeader{tag: t, length: binary.LittleEndian.Uint32(w.data[pos+4:]), valuePos: pos + 8}, nil
	}
	if pos+8 > len(w.data) {
		return elemHeader{}, errTruncated
	}
	vr := string(w.data[pos+4 : pos+6])
	if hasLongLength(vr) {
		if pos+12 > len(w.data) {
			return elemHeader{}, errTruncated
		}
		return elemHeader{tag: t, vr: vr, length: binary.LittleEndian.Uint32(w.data[pos+8:]), valuePos: pos + 12}, nil
	}
	return elemHeader{tag: t, vr: vr, length: uint32(binary.LittleEndian.Uint16(w.data[pos+6:])), valuePos: pos + 8}, nil
}

// skip returns the position just past the element described by h.
func (w *walker) skip(h elemHeader) (int, error) {
	if h.length != undefinedLength {
		end := h.valuePos + int(h.length)
		if end > len(w.data) {
			return 0, errTruncated
		}
		return end, nil
	}
	// undefined length: a sequence, or encapsulated pixel data fragments
	pos := h.valuePos
	for {
		ih, err := w.header(pos)
		if err != nil {
			return 0, err
		}
		switch ih.tag {
		case seqDelimTag:
			return ih.valuePos, nil
		case itemTag:
			if pos, err = w.skipItem(ih); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("unexpected tag (%04X,%04X) at %d in undefined length element", ih.tag.group, ih.tag.element, pos)
		}
	}
}

// skipItem returns the position just past an item.
func (w *walker) skipItem(ih elemHeader) (int, error) {
	_, end, err := w.walkItem(ih, nil)
	return end, err
}

// walkItem walks the elements of an item, calling visit for each top-level
// element header, and returns the item's start and end positions.
func (w *walker) walkItem(ih elemHeader, visit func(elemHeader)) (int, int, error) {
	start := ih.valuePos - 8
	if ih.length != undefinedLength {
		end := ih.valuePos + int(ih.length)
		if end > len(w.data) {
			return 0, 0, errTruncated
		}
		pos := ih.valuePos
		for pos < end {
			h, err := w.header(pos)
			if err != nil {
				return 0, 0, err
			}
			if visit != nil {
				visit(h)
			}
			if pos, err = w.skip(h); err != nil {
				return 0, 0, err
			}
		}
		return start, end, nil
	}

	pos := ih.valuePos
	for {
		h, err := w.header(pos)
		if err != nil {
			return 0, 0, err
		}
		if h.tag == itemDelimTag {
			return start, h.valuePos, nil
		}
		if visit != nil {
			visit(h)
		}
		if pos, err = w.skip(h); err != nil {
			return 0, 0, err
		}
	}
}

// layout walks an encoded DICOMDIR and finds the root offset elements and
// every record of the directory record sequence, in file order.
func layout(data []byte) (fileLayout, error) {
	if len(data) < preambleLen || string(data[128:132]) != "DICM" {
		return fileLayout{}, errors.New("not a DICOM file")
	}
	w := &walker{data: data}
	out := fileLayout{firstRootPos: -1, lastRootPos: -1}

	pos := preambleLen
	for pos < len(data) {
		h, err := w.header(pos)
		if err != nil {
			return fileLayout{}, err
		}
		switch h.tag {
		case firstRootTag:
			out.firstRootPos = h.valuePos
		case lastRootTag:
			out.lastRootPos = h.valuePos
		case recordSequenceTag:
			records, end, err := w.records(h)
			if err != nil {
				return fileLayout{}, fmt.Errorf("walk directory record sequence: %w", err)
			}
			out.records = records
			pos = end
			continue
		}
		if pos, err = w.skip(h); err != nil {
			return fileLayout{}, err
		}
	}

	if out.firstRootPos < 0 || out.lastRootPos < 0 {
		return fileLayout{}, errors.New("root directory offsets not found")
	}
	return out, nil
}

// records walks the items of the directory record sequence.
func (w *walker) records(seq elemHeader) ([]recordLayout, int, error) {
	var out []recordLayout
	end := -1
	if seq.length != undefinedLength {
		end = seq.valuePos + int(seq.length)
	}

	pos := seq.valuePos
	for end < 0 || pos < end {
		ih, err := w.header(pos)
		if err != nil {
			return nil, 0, err
		}
		if ih.tag == seqDelimTag {
			return out, ih.valuePos, nil
		}
		if ih.tag != itemTag {
			return nil, 0, fmt.Errorf("unexpected tag (%04X,%04X) at %d", ih.tag.group, ih.tag.element, pos)
		}

		rec := recordLayout{nextPos: -1, lowerPos: -1}
		start, itemEnd, err := w.walkItem(ih, func(h elemHeader) {
			switch h.tag {
			case nextRecordTag:
				rec.nextPos = h.valuePos
			case lowerLevelRecordTag:
				rec.lowerPos = h.valuePos
			}
		})
		if err != nil {
			return nil, 0, err
		}
		if rec.nextPos < 0 || rec.lowerPos < 0 {
			return nil, 0, fmt.Errorf("record at %d has no offset elements", start)
		}
		rec.offset = uint32(start)
		out = append(out, rec)
		pos = itemEnd
	}
	return out, end, nil
}

func (l fileLayout) uint32At(data []byte, pos int) uint32 {
	return binary.LittleEndian.Uint32(data[pos:])
}

// putUint32At overwrites a 4-byte UL value in place.
func putUint32At(data []byte, pos int, value uint32) error {
	if pos < 0 || pos+4 > len(data) {
		return fmt.Errorf("offset value position %d out of range", pos)
	}
	binary.LittleEndian.PutUint32(data[pos:], value)
	return nil
}

// linkRecords patches the encoded DICOMDIR so that each record points to its
// next sibling and first child, and the header points to the first and last
// root records. flat is the records in the depth-first order they were
// written, which is also their order in the file.
func linkRecords(data []byte, roots []*Record, flat []*Record) error {
	l, err := layout(data)
	if err != nil {
		return err
	}
	if len(l.records) != len(flat) {
		return fmt.Errorf("found %d records in encoded data, wrote %d", len(l.records), len(flat))
	}

	offsets := make(map[*Record]uint32, len(flat))
	positions := make(map[*Record]recordLayout, len(flat))
	for i, r := range flat {
		offsets[r] = l.records[i].offset
		positions[r] = l.records[i]
	}

	var first, last uint32
	if len(roots) > 0 {
		first = offsets[roots[0]]
		last = offsets[roots[len(roots)-1]]
	}
	if err := putUint32At(data, l.firstRootPos, first); err != nil {
		return err
	}
	if err := putUint32At(data, l.lastRootPos, last); err != nil {
		return err
	}

	var link func(siblings []*Record) error
	link = func(siblings []*Record) error {
		for i, r := range siblings {
			var next, lower uint32
			if i+1 < len(siblings) {
				next = offsets[siblings[i+1]]
			}
			if len(r.Children) > 0 {
				lower = offsets[r.Children[0]]
			}
			p := positions[r]
			if err := putUint32At(data, p.nextPos, next); err != nil {
				return err
			}
			if err := putUint32At(data, p.lowerPos, lower); err != nil {
				return err
			}
			if err := link(r.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return link(roots)
}
