package export

import "fmt"

// Dataset is the tabular content of a report file.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// AddRow appends a row; it must have one cell per header.
func (d *Dataset) AddRow(cells ...string) error {
	if len(cells) != len(d.Headers) {
		return fmt.Errorf("row has %d cells, expected %d", len(cells), len(d.Headers))
	}
	d.Rows = append(d.Rows, cells)
	return nil
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset requires at least one header")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Headers) {
			return fmt.Errorf("row %d has %d cells, expected %d", i+1, len(row), len(d.Headers))
		}
	}
	return nil
}
