package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ZWatch/internal/domain/models"
	"ZWatch/internal/domain/repository"
	pkgch "ZWatch/pkg/clickhouse"
	pkgkafka "ZWatch/pkg/kafka"
)

// ClickHouseRunStore implements RunStore on ClickHouse. Run records are
// append-only: every save inserts a new version and reads resolve the
// highest version, so a re-save never mutates history.
type ClickHouseRunStore struct {
	client   *pkgch.Client
	db       *sql.DB
	database string
}

// NewClickHouseRunStore creates a run store writing to the given database.
func NewClickHouseRunStore(client *pkgch.Client, database string) repository.RunStore {
	return &ClickHouseRunStore{client: client, db: client.DB(), database: database}
}

func (s *ClickHouseRunStore) runsTable() string { return s.database + ".backtest_runs" }
func (s *ClickHouseRunStore) rowsTable() string { return s.database + ".backtest_rows" }

func (s *ClickHouseRunStore) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id String,
			version UInt64,
			created_at DateTime,
			symbol String,
			interval String,
			window Int32,
			entry_threshold Float64,
			exit_threshold Float64,
			logic String,
			side String,
			status String,
			bars Int32,
			start_time DateTime,
			end_time DateTime,
			metrics String,
			verdict String,
			error String
		) ENGINE = MergeTree() ORDER BY (run_id, version)`, s.runsTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id String,
			ts DateTime,
			close Float64,
			mean Float64,
			std Float64,
			zscore Float64,
			scored UInt8,
			position Int8,
			prev_position Int8,
			price_change_pct Float64,
			trades Float64,
			pnl Float64,
			cumulative_pnl Float64,
			running_peak Float64,
			drawdown Float64
		) ENGINE = ReplacingMergeTree() ORDER BY (run_id, ts)`, s.rowsTable()),
	}
	return s.client.InitSchema(ctx, stmts)
}

func (s *ClickHouseRunStore) SaveRun(ctx context.Context, run *models.BacktestRun) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	verdict, err := json.Marshal(run.Verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	q := fmt.Sprintf(`INSERT INTO %s
		(run_id, version, created_at, symbol, interval, window, entry_threshold, exit_threshold,
		 logic, side, status, bars, start_time, end_time, metrics, verdict, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.runsTable())
	_, err = s.db.ExecContext(ctx, q,
		run.ID,
		uint64(time.Now().UnixNano()),
		run.CreatedAt,
		run.Params.Symbol,
		run.Params.Interval,
		int32(run.Params.Window),
		run.Params.EntryThreshold,
		run.Params.ExitThreshold,
		string(run.Params.Logic),
		string(run.Params.Side),
		string(run.Status),
		int32(run.Bars),
		run.StartTime,
		run.EndTime,
		string(metrics),
		string(verdict),
		run.Error,
	)
	return err
}

func (s *ClickHouseRunStore) GetRun(ctx context.Context, id string) (*models.BacktestRun, error) {
	q := fmt.Sprintf(`SELECT run_id, created_at, symbol, interval, window, entry_threshold,
		exit_threshold, logic, side, status, bars, start_time, end_time, metrics, verdict, error
		FROM %s WHERE run_id = ? ORDER BY version DESC LIMIT 1`, s.runsTable())

	var (
		run              models.BacktestRun
		window, bars     int32
		logic, side      string
		status           string
		metrics, verdict string
	)
	row := s.db.QueryRowContext(ctx, q, id)
	err := row.Scan(
		&run.ID,
		&run.CreatedAt,
		&run.Params.Symbol,
		&run.Params.Interval,
		&window,
		&run.Params.EntryThreshold,
		&run.Params.ExitThreshold,
		&logic,
		&side,
		&status,
		&bars,
		&run.StartTime,
		&run.EndTime,
		&metrics,
		&verdict,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	run.Params.Window = int(window)
	run.Params.Logic = models.Logic(logic)
	run.Params.Side = models.Side(side)
	run.Status = models.RunStatus(status)
	run.Bars = int(bars)
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, fmt.Errorf("unmarshal metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(verdict), &run.Verdict); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	return &run, nil
}

func (s *ClickHouseRunStore) SaveRows(ctx context.Context, runID string, rows []models.SimulatedBar) error {
	if len(rows) == 0 {
		return nil
	}
	// Multi-row VALUES inserts chunked to limit statement size.
	const chunkSize = 2000
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*15)
		for _, r := range rows[start:end] {
			scored := uint8(0)
			if r.Scored {
				scored = 1
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				runID,
				r.Timestamp,
				r.Close,
				r.Mean,
				r.Std,
				r.ZScore,
				scored,
				int8(r.Position),
				int8(r.PrevPosition),
				r.PriceChangePct,
				r.Trades,
				r.Pnl,
				r.CumulativePnl,
				r.RunningPeak,
				r.Drawdown,
			)
		}
		q := fmt.Sprintf(`INSERT INTO %s
			(run_id, ts, close, mean, std, zscore, scored, position, prev_position,
			 price_change_pct, trades, pnl, cumulative_pnl, running_peak, drawdown)
			VALUES %s`, s.rowsTable(), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

// GetRows reads the stored rows in time order. FINAL collapses duplicate
// (run_id, ts) keys the at-least-once kafka leg may have written.
func (s *ClickHouseRunStore) GetRows(ctx context.Context, runID string) ([]models.SimulatedBar, error) {
	q := fmt.Sprintf(`SELECT ts, close, mean, std, zscore, scored, position, prev_position,
		price_change_pct, trades, pnl, cumulative_pnl, running_peak, drawdown
		FROM %s FINAL WHERE run_id = ? ORDER BY ts ASC`, s.rowsTable())
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SimulatedBar
	for rows.Next() {
		var (
			r         models.SimulatedBar
			ts        time.Time
			scored    uint8
			pos, prev int8
		)
		if err := rows.Scan(
			&ts,
			&r.Close,
			&r.Mean,
			&r.Std,
			&r.ZScore,
			&scored,
			&pos,
			&prev,
			&r.PriceChangePct,
			&r.Trades,
			&r.Pnl,
			&r.CumulativePnl,
			&r.RunningPeak,
			&r.Drawdown,
		); err != nil {
			return nil, err
		}
		r.Timestamp = ts.UTC()
		r.Scored = scored == 1
		r.Position = models.Position(pos)
		r.PrevPosition = models.Position(prev)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseRunStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseRunStore) Close() error {
	return nil // Managed by pkg
}

// KafkaEventPublisher implements EventPublisher for Kafka. Rows go to the
// rows topic keyed by run id; signal events to the events topic keyed by
// symbol so per-symbol ordering survives partitioning.
type KafkaEventPublisher struct {
	producer    *pkgkafka.Producer
	rowsTopic   string
	eventsTopic string
}

// NewKafkaEventPublisher creates a Kafka event publisher.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, rowsTopic, eventsTopic string) repository.EventPublisher {
	return &KafkaEventPublisher{producer: producer, rowsTopic: rowsTopic, eventsTopic: eventsTopic}
}

func (p *KafkaEventPublisher) PublishRows(ctx context.Context, runID string, rows []models.SimulatedBar) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(rows))
	for i, r := range rows {
		msgs[i] = pkgkafka.Message{
			Key: []byte(runID),
			Value: map[string]interface{}{
				"run_id":           runID,
				"ts":               r.Timestamp.Unix(),
				"close":            r.Close,
				"mean":             r.Mean,
				"std":              r.Std,
				"zscore":           r.ZScore,
				"scored":           r.Scored,
				"position":         int8(r.Position),
				"prev_position":    int8(r.PrevPosition),
				"price_change_pct": r.PriceChangePct,
				"trades":           r.Trades,
				"pnl":              r.Pnl,
				"cumulative_pnl":   r.CumulativePnl,
				"running_peak":     r.RunningPeak,
				"drawdown":         r.Drawdown,
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.rowsTopic, msgs)
}

func (p *KafkaEventPublisher) PublishEvent(ctx context.Context, ev *models.SignalEvent) error {
	return p.producer.Publish(ctx, p.eventsTopic, []byte(ev.Symbol), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
