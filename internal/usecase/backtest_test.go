package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ZWatch/internal/domain/models"
	domsvc "ZWatch/internal/domain/service"
	"ZWatch/internal/services/engine"
)

func backtestRequest() *models.BacktestRequest {
	return &models.BacktestRequest{
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		Window:         3,
		EntryThreshold: 1.0,
		ExitThreshold:  -1.0,
		Logic:          "trend",
		Side:           "both",
		Days:           2,
	}
}

func demoBars() []models.Bar {
	return hourlyBars(
		100, 102, 101, 105, 99, 103, 97, 104, 98, 101,
		106, 95, 108, 93, 110, 91, 112, 115, 89, 118,
		120, 88, 122, 125, 87, 128, 130, 85, 132, 135,
	)
}

type backtestFixture struct {
	uc      *BacktestUseCase
	market  *fakeMarket
	store   *fakeStore
	pub     *fakePublisher
	metrics *fakeMetrics
	cache   *fakeCache
	clock   *fakeClock
}

func newBacktestFixture(t *testing.T, backend string, bars []models.Bar) *backtestFixture {
	t.Helper()
	market := &fakeMarket{bars: bars}
	store := newFakeStore()
	pub := newFakePublisher()
	metrics := newFakeMetrics()
	c := newFakeCache()
	series := NewSeriesUseCase(market, c, metrics, time.Minute, 10000)
	rows := NewRowProcessor(pub, store, metrics, backend)
	uc := NewBacktestUseCase(series, store, rows, metrics, testLogger(t), engine.DefaultCriteria(), 0, time.Minute)

	end := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	if len(bars) > 0 {
		end = bars[len(bars)-1].Timestamp.Add(time.Hour)
	}
	clock := &fakeClock{t: end}
	uc.now = clock.now
	return &backtestFixture{uc: uc, market: market, store: store, pub: pub, metrics: metrics, cache: c, clock: clock}
}

func TestBacktestRunStoresRunAndRows(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "clickhouse", bars)

	res, err := fx.uc.Run(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	run := res.Run
	if run.ID == "" {
		t.Fatalf("run ID empty")
	}
	if run.Status != models.RunDone {
		t.Fatalf("status = %s, want done", run.Status)
	}
	if run.Bars != len(bars) {
		t.Fatalf("bars = %d, want %d", run.Bars, len(bars))
	}
	if !run.StartTime.Equal(bars[0].Timestamp) || !run.EndTime.Equal(bars[len(bars)-1].Timestamp) {
		t.Fatalf("run range %s..%s", run.StartTime, run.EndTime)
	}
	if len(run.Verdict.Reasons) != 4 {
		t.Fatalf("verdict reasons = %d, want 4", len(run.Verdict.Reasons))
	}
	if res.Rows != nil {
		t.Fatalf("rows returned without include_rows")
	}

	if fx.store.versions(run.ID) != 1 {
		t.Fatalf("stored versions = %d", fx.store.versions(run.ID))
	}
	if got := fx.store.storedRows(run.ID); got != len(bars) {
		t.Fatalf("stored rows = %d, want %d", got, len(bars))
	}
	stored, err := fx.uc.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Metrics.NumTrades != run.Metrics.NumTrades || stored.Metrics.TotalReturn != run.Metrics.TotalReturn {
		t.Fatalf("stored metrics diverge: %+v vs %+v", stored.Metrics, run.Metrics)
	}
	if fx.metrics.count("backtest_ok") != 1 {
		t.Fatalf("ok backtest not counted")
	}
}

func TestBacktestIncludeRowsMatchesEngine(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "clickhouse", bars)
	req := backtestRequest()
	req.IncludeRows = true

	res, err := fx.uc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	params := req.Params()
	scored := engine.Score(bars, params.Window)
	want := engine.Simulate(engine.GenerateSignals(scored, engine.FromParams(params)))
	if len(res.Rows) != len(want) {
		t.Fatalf("rows = %d, want %d", len(res.Rows), len(want))
	}
	for i := range want {
		if res.Rows[i] != want[i] {
			t.Fatalf("row %d diverges from engine output:\n got %+v\nwant %+v", i, res.Rows[i], want[i])
		}
	}
}

func TestBacktestKafkaBackendPublishesRows(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "kafka", bars)

	res, err := fx.uc.Run(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := fx.pub.publishedRows(res.Run.ID); got != len(bars) {
		t.Fatalf("published rows = %d, want %d", got, len(bars))
	}
	if got := fx.store.storedRows(res.Run.ID); got != 0 {
		t.Fatalf("rows written directly with kafka backend: %d", got)
	}
	if fx.store.versions(res.Run.ID) != 1 {
		t.Fatalf("run record must still be stored directly")
	}
}

func TestBacktestDataUnavailable(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", nil)

	_, err := fx.uc.Run(context.Background(), backtestRequest())
	if err == nil {
		t.Fatalf("expected error for empty series")
	}
	if !errors.Is(err, domsvc.ErrDataUnavailable) {
		t.Fatalf("error = %v, want ErrDataUnavailable", err)
	}
	if fx.metrics.count("backtest_failed") != 1 {
		t.Fatalf("failed backtest not counted")
	}
}

func TestBacktestPersistFailureStillReturnsResult(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "clickhouse", bars)
	fx.store.saveErr = errors.New("store down")

	res, err := fx.uc.Run(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("run must not fail on persistence: %v", err)
	}
	if res.Run.Status != models.RunDone {
		t.Fatalf("status = %s", res.Run.Status)
	}
	if fx.metrics.count("error_save_run") != 1 {
		t.Fatalf("save failure not counted")
	}
}

func TestReportCSVServedFromCache(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "clickhouse", bars)

	res, err := fx.uc.Run(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	first, err := fx.uc.ReportCSV(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !bytes.HasPrefix(first, []byte("time,close,mean,std,zscore,position,trades,pnl,cumulativePnl,drawdown\n")) {
		t.Fatalf("unexpected report header")
	}

	// wipe the store: a second render can only come from the cache
	fx.store.mu.Lock()
	fx.store.rows = map[string][]models.SimulatedBar{}
	fx.store.mu.Unlock()

	second, err := fx.uc.ReportCSV(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("cached report: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached report differs")
	}
}

func TestRerunInvalidatesCachedReport(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "clickhouse", bars)

	res, err := fx.uc.Run(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := fx.uc.ReportCSV(context.Background(), res.Run.ID); err != nil {
		t.Fatalf("report: %v", err)
	}
	if _, ok, _ := fx.cache.GetBytes(reportKey(res.Run.ID)); !ok {
		t.Fatalf("report not cached after first render")
	}

	// Queue redelivery reruns the same ID; the cached report must go.
	if _, err := fx.uc.RunWithID(context.Background(), res.Run.ID, backtestRequest()); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if _, ok, _ := fx.cache.GetBytes(reportKey(res.Run.ID)); ok {
		t.Fatalf("stale report survived rerun")
	}
}

func TestEnqueueBacktestAndJobExecution(t *testing.T) {
	bars := demoBars()
	fx := newBacktestFixture(t, "clickhouse", bars)
	q := &fakeQueue{}
	fx.uc.WithQueue(q)

	runID, err := fx.uc.Enqueue(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if runID == "" {
		t.Fatalf("empty run id")
	}
	queued, err := fx.uc.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("queued run not resolvable: %v", err)
	}
	if queued.Status != models.RunQueued {
		t.Fatalf("status = %s, want queued", queued.Status)
	}
	if len(q.types) != 1 || q.types[0] != BacktestJobType {
		t.Fatalf("queue messages = %v", q.types)
	}

	// worker side: payload arrives as a decoded JSON map
	raw, err := json.Marshal(q.payloads[0])
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	job := NewBacktestJob(fx.uc, testLogger(t))
	if job.Type() != BacktestJobType {
		t.Fatalf("job type = %s", job.Type())
	}
	if err := job.Handle(context.Background(), generic); err != nil {
		t.Fatalf("handle: %v", err)
	}

	done, err := fx.uc.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if done.Status != models.RunDone {
		t.Fatalf("status after job = %s, want done", done.Status)
	}
	if fx.store.versions(runID) != 2 {
		t.Fatalf("versions = %d, want queued+done", fx.store.versions(runID))
	}
}

func TestEnqueueWithoutQueueFails(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", demoBars())
	if _, err := fx.uc.Enqueue(context.Background(), backtestRequest()); err == nil {
		t.Fatalf("enqueue must fail without a queue")
	}
}

func TestBacktestJobFailureMarksRun(t *testing.T) {
	fx := newBacktestFixture(t, "clickhouse", nil) // no data: the run will fail
	q := &fakeQueue{}
	fx.uc.WithQueue(q)

	runID, err := fx.uc.Enqueue(context.Background(), backtestRequest())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job := NewBacktestJob(fx.uc, testLogger(t))
	if err := job.Handle(context.Background(), q.payloads[0]); err == nil {
		t.Fatalf("job must propagate the failure for retry handling")
	}
	run, err := fx.uc.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Error == "" {
		t.Fatalf("failure cause not recorded")
	}
}
