package model

// Error codes.
const (
	ErrorCodeSeriesNotFound   = "SERIES_NOT_FOUND"
	ErrorCodeInvalidParameter = "INVALID_PARAMETER"
	ErrorCodeDatasetError     = "DATASET_ERROR"
	ErrorCodeInternalError    = "INTERNAL_ERROR"
)

// Dataset sources reported by the dashboard endpoint.
const (
	SourceSnapshot = "snapshot"
	SourceRebuild  = "rebuild"
)
