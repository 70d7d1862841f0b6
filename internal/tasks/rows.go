package tasks

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"unicode/utf8"

	"google.golang.org/api/bigquery/v2"
)

const (
	RowsCSV  = "csv"
	RowsJSON = "json"
	RowsHTML = "html"
)

var rowsTable = template.Must(template.New("rows").Parse(`<table border="1" class="dataframe">
  <thead>
    <tr style="text-align: right;">
      <th></th>
{{- range .Columns}}
      <th>{{.}}</th>
{{- end}}
    </tr>
  </thead>
  <tbody>
{{- range $i, $row := .Rows}}
    <tr>
      <th>{{$i}}</th>
{{- range $row}}
      <td>{{.}}</td>
{{- end}}
    </tr>
{{- end}}
  </tbody>
</table>
`))

// printRows writes query rows as delimited text, a JSON array of records or
// an HTML table.
func printRows(w io.Writer, format string, schema *bigquery.TableSchema, rows []*bigquery.TableRow, delimiter string, header bool) error {
	var columns []string
	if schema != nil {
		for _, f := range schema.Fields {
			columns = append(columns, f.Name)
		}
	}

	switch format {
	case RowsCSV:
		sep, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) {
			return fmt.Errorf("delimiter %q must be a single character", delimiter)
		}
		cw := csv.NewWriter(w)
		cw.Comma = sep
		if header {
			if err := cw.Write(columns); err != nil {
				return err
			}
		}
		for _, row := range rows {
			if err := cw.Write(cells(row, len(columns))); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case RowsJSON:
		records := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			rec := make(map[string]any, len(columns))
			for i, name := range columns {
				var v any
				if i < len(row.F) {
					v = row.F[i].V
				}
				rec[name] = v
			}
			records = append(records, rec)
		}
		return json.NewEncoder(w).Encode(records)

	case RowsHTML:
		data := struct {
			Columns []string
			Rows    [][]string
		}{Columns: columns}
		for _, row := range rows {
			data.Rows = append(data.Rows, cells(row, len(columns)))
		}
		return rowsTable.Execute(w, data)
	}
	return fmt.Errorf("unsupported row format %q", format)
}

func cells(row *bigquery.TableRow, width int) []string {
	out := make([]string, width)
	for i := 0; i < width && i < len(row.F); i++ {
		if v := row.F[i].V; v != nil {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
