package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func writeValue(w io.Writer, output string, v any) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output %q (want json or yaml)", output)
}

// writeReport re-encodes structured reports in the requested output and
// copies every other payload through unchanged.
func writeReport(w io.Writer, output string, report *sandboxbridge.Report) error {
	if !report.Structured {
		_, err := w.Write(report.Data)
		return err
	}
	m, err := report.Map()
	if err != nil {
		return err
	}
	return writeValue(w, output, m)
}
