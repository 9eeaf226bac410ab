package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/clinimage/imagingd/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SQ = "SQ" // Sequence of Items
	VR_ST = "ST" // Short Text
	VR_TM = "TM" // Time
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
)

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Element represents a DICOM data element. For VR_SQ elements the Value
// holds []*Dataset, one per sequence item.
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	d.Elements[tag] = &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
}

// AddString adds a string element using the dictionary VR for the tag.
func (d *Dataset) AddString(tag Tag, value string) {
	d.AddElement(tag, determineVR(tag), value)
}

// AddSequence adds a sequence element with the given items.
func (d *Dataset) AddSequence(tag Tag, items []*Dataset) {
	d.AddElement(tag, VR_SQ, items)
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			// Backslash separates multiple values
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// GetSequence returns the items of a sequence element, or nil if the tag
// is absent or not a sequence.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	if element, exists := d.Elements[tag]; exists {
		if items, ok := element.Value.([]*Dataset); ok {
			return items
		}
	}
	return nil
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	return parseDataset(data, false)
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	switch transferSyntaxUID {
	case "", TransferSyntaxExplicitVRLittleEndian:
		return parseDataset(data, false)
	case TransferSyntaxImplicitVRLittleEndian:
		return parseDataset(data, true)
	default:
		return parseDataset(data, false)
	}
}

func parseDataset(data []byte, implicit bool) (*Dataset, error) {
	dataset := NewDataset()

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		var vr string
		var length uint32
		var valueOffset int

		if implicit {
			vr = determineVR(tag)
			length = binary.LittleEndian.Uint32(data[offset+4 : offset+8])
			valueOffset = offset + 8
		} else {
			vr = string(data[offset+4 : offset+6])
			if isLongVR(vr) {
				// Long VR: Tag (4) + VR (2) + Reserved (2) + Length (4)
				if offset+12 > len(data) {
					break
				}
				length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
				valueOffset = offset + 12
			} else {
				// Short VR: Tag (4) + VR (2) + Length (2)
				length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
				valueOffset = offset + 8
			}
		}

		if vr == VR_SQ {
			items, next, err := parseSequenceValue(data, valueOffset, length, implicit)
			if err != nil {
				return nil, err
			}
			dataset.AddSequence(tag, items)
			offset = next
			continue
		}

		if length == undefinedLength {
			// Undefined length outside a sequence means encapsulated
			// pixel data: an item-framed fragment list (PS3.5 A.4).
			end, err := parseEncapsulatedValue(data, valueOffset)
			if err != nil {
				return nil, err
			}
			dataset.AddElement(tag, vr, data[valueOffset:end-8])
			offset = end
			continue
		}
		if valueOffset+int(length) > len(data) {
			break
		}

		valueData := data[valueOffset : valueOffset+int(length)]
		dataset.AddElement(tag, vr, parseElementValue(valueData))

		nextOffset := valueOffset + int(length)
		if length%2 == 1 {
			nextOffset++
		}
		offset = nextOffset
	}

	return dataset, nil
}

// parseSequenceValue parses the items of a sequence element starting at
// valueOffset. Handles both defined and undefined sequence lengths, and
// returns the offset of the element following the sequence.
func parseSequenceValue(data []byte, valueOffset int, length uint32, implicit bool) ([]*Dataset, int, error) {
	var items []*Dataset
	offset := valueOffset
	end := len(data)
	if length != undefinedLength {
		end = valueOffset + int(length)
		if end > len(data) {
			return nil, 0, fmt.Errorf("dicom: sequence length exceeds dataset")
		}
	}

	for offset+8 <= end {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		itemLength := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		tag := Tag{Group: group, Element: element}
		offset += 8

		switch tag {
		case tagSequenceDelimiter:
			return items, offset, nil
		case tagItem:
			itemEnd := offset + int(itemLength)
			if itemLength == undefinedLength {
				var err error
				itemEnd, err = findItemDelimiter(data, offset)
				if err != nil {
					return nil, 0, err
				}
			}
			if itemEnd > len(data) {
				return nil, 0, fmt.Errorf("dicom: sequence item exceeds dataset")
			}
			item, err := parseDataset(data[offset:itemEnd], implicit)
			if err != nil {
				return nil, 0, err
			}
			items = append(items, item)
			offset = itemEnd
			if itemLength == undefinedLength {
				offset += 8 // Skip the item delimiter
			}
		default:
			return nil, 0, fmt.Errorf("dicom: unexpected tag %s inside sequence", tag)
		}
	}

	if length == undefinedLength {
		return nil, 0, fmt.Errorf("dicom: sequence delimiter not found")
	}
	return items, end, nil
}

// parseEncapsulatedValue walks the fragment items of an encapsulated
// (undefined-length) element starting at valueOffset. Fragment items
// always carry defined lengths, so the walk reads item headers until
// the sequence delimiter and returns the offset just past it.
func parseEncapsulatedValue(data []byte, valueOffset int) (int, error) {
	offset := valueOffset
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		itemLength := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		tag := Tag{Group: group, Element: element}
		offset += 8

		switch tag {
		case tagSequenceDelimiter:
			return offset, nil
		case tagItem:
			if itemLength == undefinedLength {
				return 0, fmt.Errorf("dicom: undefined length fragment item")
			}
			offset += int(itemLength)
			if offset > len(data) {
				return 0, fmt.Errorf("dicom: fragment exceeds dataset")
			}
		default:
			return 0, fmt.Errorf("dicom: unexpected tag %s inside encapsulated value", tag)
		}
	}
	return 0, fmt.Errorf("dicom: encapsulated value delimiter not found")
}

// findItemDelimiter scans for the item delimitation tag of an
// undefined-length item. Nested undefined-length sequences are not
// produced by any modality we talk to, so a flat scan is sufficient.
func findItemDelimiter(data []byte, start int) (int, error) {
	for offset := start; offset+8 <= len(data); offset += 2 {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		if (Tag{group, element}) == tagItemDelimiter {
			return offset, nil
		}
	}
	return 0, fmt.Errorf("dicom: item delimiter not found")
}

// parseElementValue parses the value as a padded string
func parseElementValue(data []byte) interface{} {
	if len(data) == 0 {
		return ""
	}

	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}

	return strings.TrimSpace(value)
}

func isLongVR(vr string) bool {
	switch vr {
	case VR_OB, VR_OW, VR_SQ, VR_UN, VR_UT:
		return true
	}
	return false
}

// determineVR determines the VR based on the tag (simplified mapping)
func determineVR(tag Tag) string {
	switch tag {
	case TagSpecificCharacterSet:
		return VR_CS
	case TagSOPClassUID, TagSOPInstanceUID, TagStudyInstanceUID, TagSeriesInstanceUID:
		return VR_UI
	case TagStudyDate, TagPatientBirthDate, TagScheduledProcedureStepStartDate:
		return VR_DA
	case TagStudyTime, TagScheduledProcedureStepStartTime:
		return VR_TM
	case TagAccessionNumber, TagStudyID, TagScheduledProcedureStepID, TagRequestedProcedureID:
		return VR_SH
	case TagModality, TagPatientSex, TagBodyPartExamined, TagScheduledProcedureStepStatus:
		return VR_CS
	case TagReferringPhysician, TagPatientName, TagScheduledPerformingPhysician:
		return VR_PN
	case TagStudyDescription, TagSeriesDescription, TagPatientID,
		TagRequestedProcedureDescription, TagScheduledProcedureStepDesc:
		return VR_LO
	case TagSeriesNumber, TagInstanceNumber:
		return VR_IS
	case TagScheduledStationAETitle:
		return VR_AE
	case TagScheduledProcedureStepSequence:
		return VR_SQ
	default:
		return VR_UN
	}
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	return encodeDataset(d, false)
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case "", TransferSyntaxExplicitVRLittleEndian:
		return encodeDataset(dataset, false), nil
	case TransferSyntaxImplicitVRLittleEndian:
		return encodeDataset(dataset, true), nil
	default:
		return encodeDataset(dataset, false), nil
	}
}

func encodeDataset(dataset *Dataset, implicit bool) []byte {
	var result []byte

	for _, tag := range dataset.sortedTags() {
		element := dataset.Elements[tag]

		tagBytes := make([]byte, 4)
		binary.LittleEndian.PutUint16(tagBytes[0:2], tag.Group)
		binary.LittleEndian.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)

		var valueBytes []byte
		if element.VR == VR_SQ {
			items, _ := element.Value.([]*Dataset)
			valueBytes = encodeSequenceItems(items, implicit)
		} else {
			valueBytes = encodeElementValue(element)
			if len(valueBytes)%2 == 1 {
				valueBytes = append(valueBytes, 0x20)
			}
		}

		if implicit {
			lengthBytes := make([]byte, 4)
			binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
			result = append(result, lengthBytes...)
		} else {
			result = append(result, []byte(element.VR)...)
			if isLongVR(element.VR) {
				// Long VR: VR (2) + Reserved (2) + Length (4)
				result = append(result, 0x00, 0x00)
				lengthBytes := make([]byte, 4)
				binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
				result = append(result, lengthBytes...)
			} else {
				if len(valueBytes) > 65535 {
					valueBytes = valueBytes[:65535]
				}
				lengthBytes := make([]byte, 2)
				binary.LittleEndian.PutUint16(lengthBytes, uint16(len(valueBytes)))
				result = append(result, lengthBytes...)
			}
		}

		result = append(result, valueBytes...)
	}

	return result
}

// encodeSequenceItems encodes sequence items with defined lengths.
func encodeSequenceItems(items []*Dataset, implicit bool) []byte {
	var result []byte
	for _, item := range items {
		itemBytes := encodeDataset(item, implicit)
		header := make([]byte, 8)
		binary.LittleEndian.PutUint16(header[0:2], tagItem.Group)
		binary.LittleEndian.PutUint16(header[2:4], tagItem.Element)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(itemBytes)))
		result = append(result, header...)
		result = append(result, itemBytes...)
	}
	return result
}

// sortedTags returns the dataset tags in ascending group/element order,
// as required for encoding.
func (d *Dataset) sortedTags() []Tag {
	var tags []Tag
	for tag := range d.Elements {
		tags = append(tags, tag)
	}

	for i := 0; i < len(tags)-1; i++ {
		for j := i + 1; j < len(tags); j++ {
			if tags[i].Group > tags[j].Group ||
				(tags[i].Group == tags[j].Group && tags[i].Element > tags[j].Element) {
				tags[i], tags[j] = tags[j], tags[i]
			}
		}
	}

	return tags
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element) []byte {
	switch v := element.Value.(type) {
	case string:
		return []byte(strings.TrimRight(v, "\x00"))
	case []string:
		joined := strings.Join(v, "\\")
		return []byte(strings.TrimRight(joined, "\x00"))
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		result := make([]byte, 2)
		binary.LittleEndian.PutUint16(result, v)
		return result
	case uint32:
		result := make([]byte, 4)
		binary.LittleEndian.PutUint32(result, v)
		return result
	case []byte:
		return v
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}
