package handler

import "github.com/menta2k/image-annotator/pkg/types"

// AnalyzeURLRequest is the JSON body of an analysis by URL
type AnalyzeURLRequest struct {
	ImageURL string `json:"image_url" validate:"required,url"`
	Prompt   string `json:"prompt" validate:"max=4000"`
	Mode     string `json:"mode" validate:"omitempty,oneof=describe detect segment"`
}

// SegmentURLRequest is the JSON body of a segmentation by URL
type SegmentURLRequest struct {
	ImageURL string   `json:"image_url" validate:"required,url"`
	Mode     string   `json:"mode" validate:"omitempty,oneof=everything points boxes"`
	Points   [][2]int `json:"points"`
	Boxes    [][4]int `json:"boxes"`
}

// HealthResponse reports the service and, when configured, the SAM2 service
type HealthResponse struct {
	Status       string              `json:"status"`
	Version      string              `json:"version"`
	Backend      string              `json:"backend"`
	Segmentation *types.HealthStatus `json:"segmentation,omitempty"`
	// SegmentationError is set when the SAM2 service could not be reached
	SegmentationError string `json:"segmentation_error,omitempty"`
}
