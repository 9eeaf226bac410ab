package types

// DICOM Transfer Syntax UIDs as defined in DICOM Part 5, Section 8 and Part 6, Annex A.4
// https://dicom.nema.org/medical/dicom/current/output/chtml/part05/chapter_8.html

// Uncompressed Transfer Syntaxes
const (
	// ImplicitVRLittleEndian - Default Transfer Syntax for DICOM
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"

	// ExplicitVRLittleEndian - Explicit VR with little endian byte ordering
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// ExplicitVRBigEndian - Explicit VR with big endian byte ordering (retired)
	ExplicitVRBigEndian = "1.2.840.10008.1.2.2"
)

// JPEG Compression Transfer Syntaxes
const (
	// JPEGBaseline8Bit - JPEG Baseline (Process 1), lossy, 8-bit samples
	JPEGBaseline8Bit = "1.2.840.10008.1.2.4.50"

	// JPEGExtended12Bit - JPEG Extended (Process 2 & 4), lossy, 8-12 bit samples
	JPEGExtended12Bit = "1.2.840.10008.1.2.4.51"

	// JPEGLossless - JPEG Lossless (Process 14)
	JPEGLossless = "1.2.840.10008.1.2.4.57"

	// JPEGLosslessSV1 - JPEG Lossless (Process 14, Selection Value 1)
	JPEGLosslessSV1 = "1.2.840.10008.1.2.4.70"
)

// TransferSyntaxInfo provides metadata about a transfer syntax
type TransferSyntaxInfo struct {
	UID                  string
	Name                 string
	IsCompressed         bool
	IsLossless           bool
	IsRetired            bool
	SupportsEncapsulated bool
}

// GetTransferSyntaxInfo returns information about a transfer syntax UID
func GetTransferSyntaxInfo(uid string) *TransferSyntaxInfo {
	info, ok := transferSyntaxRegistry[uid]
	if !ok {
		return &TransferSyntaxInfo{
			UID:          uid,
			Name:         "Unknown",
			IsCompressed: false,
			IsLossless:   true,
		}
	}
	return &info
}

// IsSupported returns true if the transfer syntax is one this module can
// decode or re-encode.
func IsSupported(uid string) bool {
	_, ok := transferSyntaxRegistry[uid]
	return ok
}

// IsCompressed returns true if the transfer syntax uses compression
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsCompressed
}

// IsLossless returns true if the transfer syntax is lossless
// Note: Uncompressed transfer syntaxes are considered lossless
func IsLossless(uid string) bool {
	return GetTransferSyntaxInfo(uid).IsLossless
}

// transferSyntaxRegistry maps transfer syntax UIDs to their information
var transferSyntaxRegistry = map[string]TransferSyntaxInfo{
	ImplicitVRLittleEndian: {
		UID:          ImplicitVRLittleEndian,
		Name:         "Implicit VR Little Endian",
		IsCompressed: false,
		IsLossless:   true,
	},
	ExplicitVRLittleEndian: {
		UID:          ExplicitVRLittleEndian,
		Name:         "Explicit VR Little Endian",
		IsCompressed: false,
		IsLossless:   true,
	},
	ExplicitVRBigEndian: {
		UID:          ExplicitVRBigEndian,
		Name:         "Explicit VR Big Endian",
		IsCompressed: false,
		IsLossless:   true,
		IsRetired:    true,
	},
	JPEGBaseline8Bit: {
		UID:                  JPEGBaseline8Bit,
		Name:                 "JPEG Baseline (Process 1)",
		IsCompressed:         true,
		IsLossless:           false,
		SupportsEncapsulated: true,
	},
	JPEGExtended12Bit: {
		UID:                  JPEGExtended12Bit,
		Name:                 "JPEG Extended (Process 2 & 4)",
		IsCompressed:         true,
		IsLossless:           false,
		SupportsEncapsulated: true,
	},
	JPEGLossless: {
		UID:                  JPEGLossless,
		Name:                 "JPEG Lossless (Process 14)",
		IsCompressed:         true,
		IsLossless:           true,
		SupportsEncapsulated: true,
	},
	JPEGLosslessSV1: {
		UID:                  JPEGLosslessSV1,
		Name:                 "JPEG Lossless, Non-Hierarchical, First-Order Prediction",
		IsCompressed:         true,
		IsLossless:           true,
		SupportsEncapsulated: true,
	},
}

// StorageTransferSyntaxes returns the transfer syntaxes the intake
// listener negotiates, in preference order: uncompressed first so
// transcoding is avoided when the modality can send native pixel data.
func StorageTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
		JPEGLosslessSV1,
		JPEGLossless,
		JPEGBaseline8Bit,
		JPEGExtended12Bit,
	}
}

// WorklistTransferSyntaxes returns the transfer syntaxes the worklist
// responder negotiates. Worklist identifiers are small text datasets, so
// only the uncompressed syntaxes are offered.
func WorklistTransferSyntaxes() []string {
	return []string{
		ExplicitVRLittleEndian,
		ImplicitVRLittleEndian,
	}
}
