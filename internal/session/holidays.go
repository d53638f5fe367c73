package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type holidayFile struct {
	Holidays []string `yaml:"holidays"`
}

// LoadHolidayFile reads a YAML holiday calendar of the form:
//
//	holidays:
//	  - "2026-01-01"
//	  - "2026-07-03"
//
// Dates are interpreted in the calendar's timezone when the calendar is
// built.
func LoadHolidayFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read holiday file: %w", err)
	}
	var f holidayFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse holiday file %s: %w", path, err)
	}
	return f.Holidays, nil
}
