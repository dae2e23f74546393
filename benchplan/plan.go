// Package benchplan reads benchmark sweep plans and
// writes the results of running them.
package benchplan

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// A Row is one configuration to benchmark.
type Row struct {
	Iterations int `yaml:"iterations" toml:"iterations"`
	VectorSize int `yaml:"vector_sz" toml:"vector_sz"`
}

// A Plan is a list of configurations, run in order.
type Plan struct {
	Rows []Row `yaml:"benchmarks" toml:"benchmarks"`
}

// Load reads a plan file, picking the format from the
// extension: .csv, .yaml, .yml, or .toml.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load plan", err)
	}
	plan, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, essentials.AddCtx("load plan "+path, err)
	}
	return plan, nil
}

// Parse decodes a plan in the format named by ext.
func Parse(ext string, data []byte) (*Plan, error) {
	var plan *Plan
	var err error
	switch strings.ToLower(ext) {
	case ".csv":
		plan, err = parseCSV(bytes.NewReader(data))
	case ".yaml", ".yml":
		plan = &Plan{}
		err = yaml.Unmarshal(data, plan)
	case ".toml":
		plan = &Plan{}
		err = toml.Unmarshal(data, plan)
	default:
		return nil, fmt.Errorf("unknown plan format %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks that every row can be benchmarked.
func (p *Plan) Validate() error {
	if len(p.Rows) == 0 {
		return fmt.Errorf("plan has no rows")
	}
	for i, row := range p.Rows {
		if row.Iterations <= 0 || row.VectorSize <= 0 {
			return fmt.Errorf("row %d: iterations and vector size must be positive, got %d and %d",
				i, row.Iterations, row.VectorSize)
		}
	}
	return nil
}

// parseCSV reads rows under an "iterations,vector_sz"
// header. Columns may appear in either order and blank
// lines are skipped.
func parseCSV(r io.Reader) (*Plan, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	iterCol, sizeCol := -1, -1
	for i, name := range records[0] {
		switch strings.TrimSpace(name) {
		case "iterations":
			iterCol = i
		case "vector_sz":
			sizeCol = i
		}
	}
	if iterCol < 0 || sizeCol < 0 {
		return nil, fmt.Errorf("header must name iterations and vector_sz columns")
	}
	plan := &Plan{}
	for i, record := range records[1:] {
		iterations, err := strconv.Atoi(strings.TrimSpace(record[iterCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		size, err := strconv.Atoi(strings.TrimSpace(record[sizeCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		plan.Rows = append(plan.Rows, Row{Iterations: iterations, VectorSize: size})
	}
	return plan, nil
}
