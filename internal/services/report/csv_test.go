package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
	"ZWatch/internal/services/engine"
)

func sampleRows(t *testing.T) []models.SimulatedBar {
	t.Helper()
	base := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 102, 101, 105, 99, 103}
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		bars[i] = models.Bar{Timestamp: base.Add(time.Duration(i) * time.Hour), Close: c}
	}
	scored := engine.Score(bars, 3)
	rules := engine.NewRules(models.LogicTrend, models.SideBoth, 1.0, -1.0)
	return engine.Simulate(engine.GenerateSignals(scored, rules))
}

func TestWriteCSVHeaderAndLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRows(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(recs) != 7 {
		t.Fatalf("got %d records, want header + 6 rows", len(recs))
	}
	for i, col := range Columns {
		if recs[0][i] != col {
			t.Fatalf("header[%d] = %q, want %q", i, recs[0][i], col)
		}
	}
	if recs[1][0] != "2024-10-01 00:00:00" {
		t.Fatalf("time cell = %q", recs[1][0])
	}
}

func TestWriteCSVWarmupCellsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRows(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	recs, _ := csv.NewReader(&buf).ReadAll()
	// First two data rows precede a full window: mean/std/zscore empty.
	for row := 1; row <= 2; row++ {
		for col := 2; col <= 4; col++ {
			if recs[row][col] != "" {
				t.Fatalf("row %d col %d = %q, want empty", row, col, recs[row][col])
			}
		}
	}
	for col := 2; col <= 4; col++ {
		if recs[3][col] == "" {
			t.Fatalf("scored row col %d unexpectedly empty", col)
		}
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	rows := sampleRows(t)
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for i, r := range rows {
		rec := recs[i+1]
		checks := []struct {
			col  int
			want float64
		}{
			{1, r.Close}, {6, r.Trades}, {7, r.Pnl}, {8, r.CumulativePnl}, {9, r.Drawdown},
		}
		for _, c := range checks {
			got, err := strconv.ParseFloat(rec[c.col], 64)
			if err != nil {
				t.Fatalf("row %d col %d: %v", i, c.col, err)
			}
			if got != c.want {
				t.Fatalf("row %d col %d = %v, want %v", i, c.col, got, c.want)
			}
		}
		pos, err := strconv.Atoi(rec[5])
		if err != nil || models.Position(pos) != r.Position {
			t.Fatalf("row %d position = %q, want %d", i, rec[5], r.Position)
		}
	}
}

func TestRenderCSVMatchesWrite(t *testing.T) {
	rows := sampleRows(t)
	b, err := RenderCSV(rows)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(b, buf.Bytes()) {
		t.Fatalf("render and write outputs differ")
	}
}
