package api

import (
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ignite/list-validator/internal/validation"
)

// exportColumns are appended after the original columns in every export.
var exportColumns = []string{
	validation.ColValidStatus,
	validation.ColCatchAll,
	validation.ColCategory,
	validation.ColErrorMessage,
}

// writeCSV streams the validated list as an RFC 4180 CSV attachment.
func (h *Handlers) writeCSV(w http.ResponseWriter, snippet validation.ListSnippet, listData validation.ListData) {
	headers := append(append([]string{}, listData.Metadata.Columns...), exportColumns...)

	fileName := fmt.Sprintf("%s_validated.csv", trimExtension(listData.Metadata.ListName))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		log.Printf("[API] CSV write failed: %v", err)
		return
	}

	record := make([]string, len(headers))
	for _, row := range listData.Rows {
		for i, header := range headers {
			record[i] = cellString(row[header])
		}
		if err := cw.Write(record); err != nil {
			log.Printf("[API] CSV write failed: %v", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("[API] CSV flush failed: %v", err)
	}
}

// cellString renders a decoded JSON value the way it appeared in the
// upload. Missing and null cells export as empty strings.
func cellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
