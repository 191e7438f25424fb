package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"

	"ZWatch/internal/domain/models"
	"ZWatch/pkg/util"
)

// Columns is the fixed header of the per-bar report. Column order is a
// stable contract for downstream consumers.
var Columns = []string{
	"time", "close", "mean", "std", "zscore",
	"position", "trades", "pnl", "cumulativePnl", "drawdown",
}

// WriteCSV streams a simulated series as CSV. Timestamps render in UTC as
// "YYYY-MM-DD HH:MM:SS"; the statistic cells of warmup bars stay empty.
// Floats use the shortest representation that parses back to the same
// value, so re-reading the report reproduces the original numbers.
func WriteCSV(w io.Writer, rows []models.SimulatedBar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			util.FormatBarTime(r.Timestamp),
			formatF(r.Close),
			"", "", "",
			strconv.Itoa(int(r.Position)),
			formatF(r.Trades),
			formatF(r.Pnl),
			formatF(r.CumulativePnl),
			formatF(r.Drawdown),
		}
		if r.Scored {
			rec[2] = formatF(r.Mean)
			rec[3] = formatF(r.Std)
			rec[4] = formatF(r.ZScore)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// RenderCSV returns the report as a byte slice, ready for caching or an
// HTTP response body.
func RenderCSV(rows []models.SimulatedBar) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
