package util

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ParseHeader parses a DICOM file up to, but not including, the bulk pixel
// data. Elements are read one by one so that a malformed element late in the
// file still yields everything parsed before it. File meta elements come first.
func ParseHeader(path string) (dicom.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return dicom.Dataset{}, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return dicom.Dataset{}, err
	}

	p, err := dicom.NewParser(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("parse %s: %w", path, err)
	}

	var elements []*dicom.Element
	var parseErr error
	for {
		elem, err := p.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, dicom.ErrorEndOfDICOM) {
				parseErr = err
			}
			break
		}
		elements = append(elements, elem)
	}

	meta := p.GetMetadata()
	if len(elements) == 0 {
		if parseErr != nil {
			return dicom.Dataset{}, fmt.Errorf("parse %s: %w", path, parseErr)
		}
		return dicom.Dataset{}, fmt.Errorf("parse %s: no elements parsed", path)
	}

	return dicom.Dataset{Elements: append(meta.Elements, elements...)}, nil
}

// Strings returns the string values of an element, or nil when the element is
// missing or not a string element.
func Strings(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return nil
	}
	if v, ok := elem.Value.GetValue().([]string); ok {
		return v
	}
	return nil
}

// String returns the first value of a string element, trimmed of DICOM padding.
func String(ds dicom.Dataset, t tag.Tag) string {
	v := Strings(ds, t)
	if len(v) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(v[0]), "\x00")
}

// Int returns the first value of an integer element. IS values, stored as
// strings, are parsed.
func Int(ds dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil || elem.Value == nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Float returns the first value of a DS element.
func Float(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	s := String(ds, t)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
