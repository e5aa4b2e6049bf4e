package model

import "fmt"

// ErrorResponse is the envelope every failed request returns.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code plus optional context fields.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Series    string `json:"series,omitempty"`
	Parameter string `json:"parameter,omitempty"`
	Value     string `json:"value,omitempty"`
}

// SeriesNotFoundError reports a key the monitor definition does not declare.
type SeriesNotFoundError struct {
	Key string
}

func (e *SeriesNotFoundError) Error() string {
	return fmt.Sprintf("series '%s' is not configured", e.Key)
}

// DatasetError reports a failure to assemble the dashboard dataset.
type DatasetError struct {
	Message string
}

func (e *DatasetError) Error() string {
	return fmt.Sprintf("dataset build error: %s", e.Message)
}
