package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Schema names the columns of a CSV file and how to interpret them. Columns
// not mentioned anywhere are treated as numeric covariates.
type Schema struct {
	Response     string      // required
	ResponseKind SupportKind //
	Unit         string      // optional grouping-key column
	Factors      []string    // categorical columns
}

// LoadCSV reads a CSV file into a Frame:
//
//   - The first row is a header with column names
//   - The response and covariate columns hold numeric values
//   - Unit and factor columns are read as strings
//
// HOW TO USE:
//
//	frame, _ := dataset.LoadCSV("oysters.csv", dataset.Schema{
//	    Response: "growth",
//	    Unit:     "tank",
//	    Factors:  []string{"treatment"},
//	})
func LoadCSV(path string, schema Schema) (*Frame, error) {
	if schema.Response == "" {
		return nil, fmt.Errorf("schema: response column not set")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("empty header in %s", path)
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}

	respCol, ok := colIdx[schema.Response]
	if !ok {
		return nil, fmt.Errorf("response column %q not in header", schema.Response)
	}

	unitCol := -1
	if schema.Unit != "" {
		unitCol, ok = colIdx[schema.Unit]
		if !ok {
			return nil, fmt.Errorf("unit column %q not in header", schema.Unit)
		}
	}

	factorCols := make(map[int]string) // column index -> factor name
	for _, name := range schema.Factors {
		c, ok := colIdx[name]
		if !ok {
			return nil, fmt.Errorf("factor column %q not in header", name)
		}
		factorCols[c] = name
	}

	// Everything else is a numeric covariate, in header order.
	var numericCols []int
	var numericNames []string
	for i, name := range header {
		if i == respCol || i == unitCol {
			continue
		}
		if _, isFactor := factorCols[i]; isFactor {
			continue
		}
		numericCols = append(numericCols, i)
		numericNames = append(numericNames, name)
	}

	var (
		response []float64
		units    []string
		numData  []float64 // flat data for mat.Dense
		row      int
	)
	factorLevels := make(map[string][]string)

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+2, err) // +2 for header + 1-based
		}

		// Skip completely empty lines
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", row+2, len(header), len(record))
		}

		v, err := strconv.ParseFloat(record[respCol], 64)
		if err != nil {
			return nil, fmt.Errorf("parse response at row %d (%q): %w", row+2, record[respCol], err)
		}
		response = append(response, v)

		if unitCol >= 0 {
			units = append(units, record[unitCol])
		}
		for c, name := range factorCols {
			factorLevels[name] = append(factorLevels[name], record[c])
		}
		for _, c := range numericCols {
			v, err := strconv.ParseFloat(record[c], 64)
			if err != nil {
				return nil, fmt.Errorf(
					"parse float at row %d col %q (%q): %w",
					row+2, header[c], record[c], err,
				)
			}
			numData = append(numData, v)
		}
		row++
	}

	if row == 0 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}

	frame := &Frame{
		Response: response,
		Kind:     schema.ResponseKind,
		Units:    units,
	}
	if len(numericCols) > 0 {
		frame.Numeric = mat.NewDense(row, len(numericCols), numData)
		frame.NumericNames = numericNames
	}
	// Keep factors in schema order, not map order.
	for _, name := range schema.Factors {
		frame.Factors = append(frame.Factors, Factor{Name: name, Levels: factorLevels[name]})
	}

	if err := frame.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return frame, nil
}
