package anomaly

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteReport persists the consolidated anomaly list, fully replacing any
// prior report file. An empty run writes an empty array so a stale report
// never outlives the ledger state that produced it.
func WriteReport(path string, anomalies []Anomaly) error {
	if anomalies == nil {
		anomalies = []Anomaly{}
	}
	data, err := json.MarshalIndent(anomalies, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding anomaly report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing anomaly report %q: %w", path, err)
	}
	return nil
}

// ReadReport loads the current report. A missing file reads as an empty
// report.
func ReadReport(path string) ([]Anomaly, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Anomaly{}, nil
		}
		return nil, fmt.Errorf("reading anomaly report %q: %w", path, err)
	}
	var anomalies []Anomaly
	if err := json.Unmarshal(data, &anomalies); err != nil {
		return nil, fmt.Errorf("decoding anomaly report %q: %w", path, err)
	}
	return anomalies, nil
}
