package batch

import (
	"github.com/PrinceFPF/ip-checker/geodb"
)

// Resolver is the lookup side of geodb.Resolver.
type Resolver interface {
	Resolve(addr string) (geodb.Result, error)
}

// Record is one input row: the original sequence cell and the address cell.
type Record struct {
	Sequence string
	Address  string
}

// Row is one output row. Err is empty when the address was resolved.
type Row struct {
	Record

	Result geodb.Result
	Err    string
}

// Report is the resolved table, ready to be written out.
type Report struct {
	// Header keeps the input's two column titles.
	Header []string
	Rows   []Row
}

// ErrorCount returns a number of rows which failed to resolve.
func (r *Report) ErrorCount() int {
	count := 0

	for _, row := range r.Rows {
		if row.Err != "" {
			count++
		}
	}

	return count
}

// Process resolves every record. It never fails: per-record errors are
// captured in the corresponding row and processing continues with the next
// one.
func Process(resolver Resolver, header []string, records []Record) *Report {
	report := &Report{
		Header: header,
		Rows:   make([]Row, 0, len(records)),
	}

	for _, record := range records {
		row := Row{Record: record}

		if record.Address == "" {
			row.Err = "ip address is empty"
		} else if result, err := resolver.Resolve(record.Address); err != nil {
			row.Err = err.Error()
		} else {
			row.Result = result
		}

		report.Rows = append(report.Rows, row)
	}

	return report
}
