package types

// DICOM Application Context UID
// The Application Context defines the DICOM application-level message exchange rules.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// Verification Service
const (
	VerificationSOPClass = "1.2.840.10008.1.1"
)

// Storage Service SOP Classes accepted by the intake listener. The set
// mirrors what the clinic's modalities actually send: ultrasound first,
// plus the common single-frame and secondary capture classes.
const (
	UltrasoundImageStorage           = "1.2.840.10008.5.1.4.1.1.6.1"
	UltrasoundMultiFrameImageStorage = "1.2.840.10008.5.1.4.1.1.3.1"
	EnhancedUSVolumeStorage          = "1.2.840.10008.5.1.4.1.1.6.2"

	ComputedRadiographyImageStorage = "1.2.840.10008.5.1.4.1.1.1"
	CTImageStorage                  = "1.2.840.10008.5.1.4.1.1.2"
	MRImageStorage                  = "1.2.840.10008.5.1.4.1.1.4"

	SecondaryCaptureImageStorage                        = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage = "1.2.840.10008.5.1.4.1.1.7.1"
	MultiFrameTrueColorSecondaryCaptureImageStorage     = "1.2.840.10008.5.1.4.1.1.7.3"

	EncapsulatedPDFStorage = "1.2.840.10008.5.1.4.1.1.104.1"
)

// Worklist Management Service
const (
	ModalityWorklistInformationModelFind = "1.2.840.10008.5.1.4.31"
)

// SOPClassInfo provides human-readable information about a SOP Class UID
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
}

// GetSOPClassInfo returns information about a SOP Class UID
func GetSOPClassInfo(uid string) *SOPClassInfo {
	info, ok := sopClassRegistry[uid]
	if !ok {
		return &SOPClassInfo{
			UID:      uid,
			Name:     "Unknown",
			Category: "Unknown",
		}
	}
	return &info
}

// IsStorageSOPClass returns true if the UID is a storage SOP class
func IsStorageSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == "Storage"
}

// IsWorklistSOPClass returns true if the UID is a worklist SOP class
func IsWorklistSOPClass(uid string) bool {
	return GetSOPClassInfo(uid).Category == "Worklist"
}

// StorageSOPClasses returns the storage SOP classes the intake listener
// negotiates, ultrasound classes first.
func StorageSOPClasses() []string {
	return []string{
		UltrasoundImageStorage,
		UltrasoundMultiFrameImageStorage,
		EnhancedUSVolumeStorage,
		ComputedRadiographyImageStorage,
		CTImageStorage,
		MRImageStorage,
		SecondaryCaptureImageStorage,
		MultiFrameGrayscaleByteSecondaryCaptureImageStorage,
		MultiFrameTrueColorSecondaryCaptureImageStorage,
		EncapsulatedPDFStorage,
	}
}

// sopClassRegistry maps SOP Class UIDs to their information
var sopClassRegistry = map[string]SOPClassInfo{
	VerificationSOPClass: {
		UID:      VerificationSOPClass,
		Name:     "Verification SOP Class",
		Category: "Verification",
	},

	UltrasoundImageStorage: {
		UID:      UltrasoundImageStorage,
		Name:     "Ultrasound Image Storage",
		Category: "Storage",
	},
	UltrasoundMultiFrameImageStorage: {
		UID:      UltrasoundMultiFrameImageStorage,
		Name:     "Ultrasound Multi-frame Image Storage",
		Category: "Storage",
	},
	EnhancedUSVolumeStorage: {
		UID:      EnhancedUSVolumeStorage,
		Name:     "Enhanced US Volume Storage",
		Category: "Storage",
	},

	ComputedRadiographyImageStorage: {
		UID:      ComputedRadiographyImageStorage,
		Name:     "Computed Radiography Image Storage",
		Category: "Storage",
	},
	CTImageStorage: {
		UID:      CTImageStorage,
		Name:     "CT Image Storage",
		Category: "Storage",
	},
	MRImageStorage: {
		UID:      MRImageStorage,
		Name:     "MR Image Storage",
		Category: "Storage",
	},

	SecondaryCaptureImageStorage: {
		UID:      SecondaryCaptureImageStorage,
		Name:     "Secondary Capture Image Storage",
		Category: "Storage",
	},
	MultiFrameGrayscaleByteSecondaryCaptureImageStorage: {
		UID:      MultiFrameGrayscaleByteSecondaryCaptureImageStorage,
		Name:     "Multi-frame Grayscale Byte Secondary Capture Image Storage",
		Category: "Storage",
	},
	MultiFrameTrueColorSecondaryCaptureImageStorage: {
		UID:      MultiFrameTrueColorSecondaryCaptureImageStorage,
		Name:     "Multi-frame True Color Secondary Capture Image Storage",
		Category: "Storage",
	},

	EncapsulatedPDFStorage: {
		UID:      EncapsulatedPDFStorage,
		Name:     "Encapsulated PDF Storage",
		Category: "Storage",
	},

	ModalityWorklistInformationModelFind: {
		UID:      ModalityWorklistInformationModelFind,
		Name:     "Modality Worklist - FIND",
		Category: "Worklist",
	},
}
