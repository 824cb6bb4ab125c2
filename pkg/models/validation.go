// pkg/models/validation.go
package models

// ValidationBreakdown scores each axis in [0,1]
type ValidationBreakdown struct {
	SizeReduction         float64 `json:"sizeReduction"`
	QualityPreservation   float64 `json:"qualityPreservation"`
	FormatOptimization    float64 `json:"formatOptimization"`
	DimensionOptimization float64 `json:"dimensionOptimization"`
}

// ValidationReport is the verdict on one optimization result
type ValidationReport struct {
	IsValid         bool                `json:"isValid"`
	Breakdown       ValidationBreakdown `json:"breakdown"`
	ConfidenceScore float64             `json:"confidenceScore"`
	Recommendations []string            `json:"recommendations"`
}

// SourceInfo describes the original image a result was produced from
type SourceInfo struct {
	Size        int64       `json:"size"`
	Dimensions  Size        `json:"dimensions"`
	Format      string      `json:"format"`
	ContentType ContentType `json:"contentType"`
}
