package dicomtest

import (
	"encoding/binary"
	"fmt"
	"os"
)

// TruncatePixelData cuts a written file a few bytes into its PixelData value.
// The header still parses, but decoding the pixels fails.
func TruncatePixelData(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file for truncation: %w", err)
	}

	pos := findPixelData(data)
	if pos < 0 {
		return fmt.Errorf("no pixel data in %s", path)
	}
	// tag(4) + VR(2) + reserved(2) + VL(4), then keep 4 value bytes
	cut := pos + 12 + 4
	if cut > len(data) {
		cut = len(data)
	}
	return os.WriteFile(path, data[:cut], 0600)
}

// WriteGarbage writes a file that is not DICOM at all.
func WriteGarbage(path string) error {
	return os.WriteFile(path, []byte("this is not a DICOM file"), 0600)
}

// findPixelData returns the offset of the (7FE0,0010) OW/OB element header.
func findPixelData(data []byte) int {
	for i := 0; i <= len(data)-12; i++ {
		if binary.LittleEndian.Uint16(data[i:i+2]) == 0x7FE0 &&
			binary.LittleEndian.Uint16(data[i+2:i+4]) == 0x0010 {
			vr := string(data[i+4 : i+6])
			if vr == "OW" || vr == "OB" {
				return i
			}
		}
	}
	return -1
}
