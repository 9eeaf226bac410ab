package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// implementationClassUID identifies this implementation in file meta
// headers and association user information.
const (
	implementationClassUID = "1.2.826.0.1.3680043.10.1011.1"
	implementationVersion  = "IMAGINGD_1.0"
)

// StripPart10Header removes the DICOM Part 10 preamble and File Meta
// Information, returning the bare dataset and the transfer syntax the
// file meta declares for it.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002, always Explicit VR LE)
//   - Dataset (the actual DICOM data)
func StripPart10Header(data []byte) ([]byte, string, error) {
	if len(data) < 132 {
		return nil, "", fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}

	if string(data[128:132]) != "DICM" {
		return nil, "", fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	// Skip preamble (128) + DICM (4)
	offset := 132

	var transferSyntaxUID string

	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])

		// Past group 0x0002 means we reached the dataset
		if group != 0x0002 {
			break
		}

		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		if isLongVR(vr) || vr == "OF" {
			offset += 8 // Tag (4) + VR (2) + reserved (2)
			if offset+4 > len(data) {
				break
			}
			length = binary.LittleEndian.Uint32(data[offset : offset+4])
			offset += 4
			valueOffset = offset
		} else {
			offset += 6 // Tag (4) + VR (2)
			if offset+2 > len(data) {
				break
			}
			length = uint32(binary.LittleEndian.Uint16(data[offset : offset+2]))
			offset += 2
			valueOffset = offset
		}

		// Transfer Syntax UID (0002,0010)
		if element == 0x0010 && valueOffset+int(length) <= len(data) {
			transferSyntaxUID = strings.TrimRight(string(data[valueOffset:valueOffset+int(length)]), "\x00 ")
		}

		offset += int(length)
		if offset > len(data) {
			break
		}
	}

	if offset >= len(data) {
		return nil, "", fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return data[offset:], transferSyntaxUID, nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}

// WrapPart10 builds a complete Part 10 file around a bare dataset: the
// 128-byte preamble, the DICM prefix, and a File Meta Information group
// describing the dataset's SOP class, SOP instance and transfer syntax.
func WrapPart10(dataset []byte, sopClassUID, sopInstanceUID, transferSyntaxUID string) []byte {
	meta := appendFileMetaElement(nil, 0x0001, "OB", []byte{0x00, 0x01})
	meta = appendFileMetaElement(meta, 0x0002, "UI", uidBytes(sopClassUID))
	meta = appendFileMetaElement(meta, 0x0003, "UI", uidBytes(sopInstanceUID))
	meta = appendFileMetaElement(meta, 0x0010, "UI", uidBytes(transferSyntaxUID))
	meta = appendFileMetaElement(meta, 0x0012, "UI", uidBytes(implementationClassUID))
	meta = appendFileMetaElement(meta, 0x0013, "SH", []byte(implementationVersion))

	// File Meta Information Group Length (0002,0000) counts everything
	// after its own value.
	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(len(meta)))
	header := appendFileMetaElement(nil, 0x0000, "UL", groupLength)

	out := make([]byte, 0, 132+len(header)+len(meta)+len(dataset))
	out = append(out, make([]byte, 128)...)
	out = append(out, []byte("DICM")...)
	out = append(out, header...)
	out = append(out, meta...)
	out = append(out, dataset...)
	return out
}

// appendFileMetaElement appends one group 0x0002 element in Explicit VR
// Little Endian, as Part 10 requires for file meta regardless of the
// dataset transfer syntax.
func appendFileMetaElement(buf []byte, element uint16, vr string, value []byte) []byte {
	if len(value)%2 == 1 {
		value = append(value, 0x00)
	}

	tag := make([]byte, 4)
	binary.LittleEndian.PutUint16(tag[0:2], 0x0002)
	binary.LittleEndian.PutUint16(tag[2:4], element)
	buf = append(buf, tag...)
	buf = append(buf, []byte(vr)...)

	if vr == "OB" {
		buf = append(buf, 0x00, 0x00)
		length := make([]byte, 4)
		binary.LittleEndian.PutUint32(length, uint32(len(value)))
		buf = append(buf, length...)
	} else {
		length := make([]byte, 2)
		binary.LittleEndian.PutUint16(length, uint16(len(value)))
		buf = append(buf, length...)
	}

	return append(buf, value...)
}

func uidBytes(uid string) []byte {
	return []byte(uid)
}
