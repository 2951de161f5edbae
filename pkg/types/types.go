package types

// BoundingBox is a labeled rectangle in original image pixel coordinates
type BoundingBox struct {
	Label      string   `json:"label"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Point is a single vertex in original image pixel coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SegmentationPolygon is a labeled closed outline of an image region
type SegmentationPolygon struct {
	Label         string   `json:"label"`
	Points        []Point  `json:"points"`
	Confidence    *float64 `json:"confidence,omitempty"`
	PixelCoverage *float64 `json:"pixelCoverage,omitempty"`
}

// Mask is a single segmentation mask as returned by the SAM2 service.
// Data holds a base64 encoded grayscale PNG.
type Mask struct {
	ID       int      `json:"id"`
	Score    float64  `json:"score"`
	Area     int      `json:"area"`
	Data     string   `json:"mask"`
	Coverage *float64 `json:"coverage,omitempty"`
}

// Usage reports token consumption of a vision model call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Description is the raw answer of a vision model
type Description struct {
	Text    string `json:"description"`
	Usage   *Usage `json:"usage,omitempty"`
	Model   string `json:"model,omitempty"`
	Backend string `json:"backend,omitempty"`
}

// ImageSize holds natural image dimensions
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DisplayTransform maps original image coordinates onto a display canvas
type DisplayTransform struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// AnalysisResult contains the complete result of one analysis pass
type AnalysisResult struct {
	ID          string                `json:"id"`
	Description string                `json:"description"`
	Usage       *Usage                `json:"usage,omitempty"`
	Model       string                `json:"model,omitempty"`
	Boxes       []BoundingBox         `json:"boxes"`
	Polygons    []SegmentationPolygon `json:"polygons"`
	Dropped     int                   `json:"dropped"`
	Image       ImageSize             `json:"image"`
	Display     DisplayTransform      `json:"display"`
}

// HealthStatus is the SAM2 service health report
type HealthStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device,omitempty"`
}

// SegmentResult is the SAM2 service segmentation response
type SegmentResult struct {
	Success    bool   `json:"success"`
	Mode       string `json:"mode"`
	NumMasks   int    `json:"num_masks"`
	Masks      []Mask `json:"masks"`
	ImageShape []int  `json:"image_shape,omitempty"`
}

// Float returns a pointer to v, for optional fields
func Float(v float64) *float64 {
	return &v
}
