package dicomdir

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/mrsinham/dicomiso/internal/util"
)

// Directory is a DICOMDIR loaded into a record tree.
type Directory struct {
	FileSetID  string
	FileSetUID string
	Roots      []*Record
}

// Read loads the DICOMDIR at path and rebuilds its record tree by following
// the record offsets. Records marked inactive are dropped. The returned error
// wraps os.ErrNotExist when the file does not exist.
func Read(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l, err := layout(data)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := &Directory{
		FileSetID:  util.String(ds, tag.FileSetID),
		FileSetUID: util.String(ds, tag.MediaStorageSOPInstanceUID),
	}

	seqElem, err := ds.FindElementByTag(tag.DirectoryRecordSequence)
	if err != nil {
		return dir, nil
	}
	items, _ := seqElem.Value.GetValue().([]*dicom.SequenceItemValue)
	if len(items) != len(l.records) {
		return nil, fmt.Errorf("read %s: parsed %d records, found %d in layout", path, len(items), len(l.records))
	}

	type node struct {
		rec    *Record
		inUse  bool
		next   uint32
		lower  uint32
		linked bool
	}
	byOffset := make(map[uint32]*node, len(items))
	for i, item := range items {
		elems, _ := item.GetValue().([]*dicom.Element)
		n := &node{rec: &Record{}, inUse: true}
		for _, e := range elems {
			switch e.Tag {
			case tag.DirectoryRecordType:
				if v, ok := e.Value.GetValue().([]string); ok && len(v) > 0 {
					n.rec.Type = strings.Trim(v[0], " \x00")
				}
			case tag.RecordInUseFlag:
				if v, ok := e.Value.GetValue().([]int); ok && len(v) > 0 && v[0] == 0 {
					n.inUse = false
				}
			case tag.IconImageSequence:
				n.rec.hasIcon = true
				n.rec.Elements = append(n.rec.Elements, e)
			default:
				if !isRecordControl(e.Tag) {
					n.rec.Elements = append(n.rec.Elements, e)
				}
			}
		}
		n.next = l.uint32At(data, l.records[i].nextPos)
		n.lower = l.uint32At(data, l.records[i].lowerPos)
		byOffset[l.records[i].offset] = n
	}

	var chain func(offset uint32) ([]*Record, error)
	chain = func(offset uint32) ([]*Record, error) {
		var out []*Record
		for offset != 0 {
			n, ok := byOffset[offset]
			if !ok {
				return nil, fmt.Errorf("dangling record offset %d", offset)
			}
			if n.linked {
				return nil, fmt.Errorf("record offset %d referenced twice", offset)
			}
			n.linked = true
			children, err := chain(n.lower)
			if err != nil {
				return nil, err
			}
			if n.inUse {
				n.rec.Children = children
				out = append(out, n.rec)
			}
			offset = n.next
		}
		return out, nil
	}

	roots, err := chain(l.uint32At(data, l.firstRootPos))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	dir.Roots = roots
	return dir, nil
}
