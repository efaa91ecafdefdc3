package constants

// Provenance tells whether a score came from one backend or the mean of two.
type Provenance string

// Stable values (store these exact strings in DB).
const (
	ProvenanceSingle Provenance = "single"
	ProvenanceDual   Provenance = "dual"
)

// RecordType distinguishes per-question rows from run summaries in exports.
type RecordType string

const (
	RecordTypeDetail  RecordType = "detail"
	RecordTypeSummary RecordType = "summary"
)
