package sandboxbridge

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// ReportUnavailable is the placeholder payload returned for formats a
// backend has no alternate rendering for.
const ReportUnavailable = "Report Unavailable"

// Report is a fetched analysis. Structured reports hold JSON in Data; all
// other reports hold the backend's payload unmodified.
type Report struct {
	Format      string
	Data        []byte
	Structured  bool
	Placeholder bool
}

// JSONReport wraps a JSON document.
func JSONReport(format string, data []byte) *Report {
	return &Report{Format: format, Data: data, Structured: true}
}

// RawReport wraps an opaque payload.
func RawReport(format string, data []byte) *Report {
	return &Report{Format: format, Data: data}
}

// UnavailableReport is the fixed placeholder for unsupported renderings.
func UnavailableReport(format string) *Report {
	return &Report{Format: format, Data: []byte(ReportUnavailable), Placeholder: true}
}

// JSONOrRaw returns a structured report when data is valid JSON and a raw
// one otherwise.
func JSONOrRaw(format string, data []byte) *Report {
	if gjson.ValidBytes(data) && len(data) > 0 {
		return JSONReport(format, data)
	}
	return RawReport(format, data)
}

// Get looks up a dotted gjson path ("info.score", "tasks.@values") in a
// structured report. Missing paths and raw reports yield a non-existent
// result.
func (r *Report) Get(path string) gjson.Result {
	if r == nil || !r.Structured {
		return gjson.Result{}
	}
	return gjson.GetBytes(r.Data, path)
}

// Map decodes a structured report into nested maps.
func (r *Report) Map() (map[string]any, error) {
	if r == nil || !r.Structured {
		return nil, fmt.Errorf("report is not structured")
	}
	var m map[string]any
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return m, nil
}

func (r *Report) String() string {
	if r == nil {
		return ""
	}
	return string(r.Data)
}
