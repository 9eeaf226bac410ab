package dicom

// Tags used by the worklist responder and the intake pipeline.
var (
	TagSpecificCharacterSet = Tag{0x0008, 0x0005}
	TagSOPClassUID          = Tag{0x0008, 0x0016}
	TagSOPInstanceUID       = Tag{0x0008, 0x0018}
	TagStudyDate            = Tag{0x0008, 0x0020}
	TagStudyTime            = Tag{0x0008, 0x0030}
	TagAccessionNumber      = Tag{0x0008, 0x0050}
	TagModality             = Tag{0x0008, 0x0060}
	TagReferringPhysician   = Tag{0x0008, 0x0090}
	TagStudyDescription     = Tag{0x0008, 0x1030}
	TagSeriesDescription    = Tag{0x0008, 0x103E}

	TagPatientName      = Tag{0x0010, 0x0010}
	TagPatientID        = Tag{0x0010, 0x0020}
	TagPatientBirthDate = Tag{0x0010, 0x0030}
	TagPatientSex       = Tag{0x0010, 0x0040}

	TagBodyPartExamined = Tag{0x0018, 0x0015}

	TagStudyInstanceUID  = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID = Tag{0x0020, 0x000E}
	TagStudyID           = Tag{0x0020, 0x0010}
	TagSeriesNumber      = Tag{0x0020, 0x0011}
	TagInstanceNumber    = Tag{0x0020, 0x0013}

	TagRequestedProcedureDescription = Tag{0x0032, 0x1060}

	TagScheduledStationAETitle         = Tag{0x0040, 0x0001}
	TagScheduledProcedureStepStartDate = Tag{0x0040, 0x0002}
	TagScheduledProcedureStepStartTime = Tag{0x0040, 0x0003}
	TagScheduledPerformingPhysician    = Tag{0x0040, 0x0006}
	TagScheduledProcedureStepDesc      = Tag{0x0040, 0x0007}
	TagScheduledProcedureStepID        = Tag{0x0040, 0x0009}
	TagScheduledProcedureStepStatus    = Tag{0x0040, 0x0020}
	TagScheduledProcedureStepSequence  = Tag{0x0040, 0x0100}
	TagRequestedProcedureID            = Tag{0x0040, 0x1001}

	TagPixelData = Tag{0x7FE0, 0x0010}
)

// Sequence item delimiters (DICOM PS3.5 Section 7.5)
var (
	tagItem              = Tag{0xFFFE, 0xE000}
	tagItemDelimiter     = Tag{0xFFFE, 0xE00D}
	tagSequenceDelimiter = Tag{0xFFFE, 0xE0DD}
)

const undefinedLength = 0xFFFFFFFF
