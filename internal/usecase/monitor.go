package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ZWatch/internal/domain/models"
	domrepo "ZWatch/internal/domain/repository"
	domsvc "ZWatch/internal/domain/service"
	"ZWatch/internal/services/engine"
	applogger "ZWatch/pkg/logger"
	"ZWatch/pkg/util"
)

var (
	ErrMonitorRunning    = errors.New("monitor already running")
	ErrMonitorNotRunning = errors.New("monitor not running")
)

// MonitorUseCase owns one live monitoring session. A poll loop fetches the
// trailing window, scores the last closed bar, advances the live position
// rules, and sends exactly one status update per new closed bar. The live
// tick stream only feeds the price gauge; position decisions come from
// closed bars.
//
// All session state is guarded by mu; bar evaluation and tick updates are
// serialized through it. Notification and event delivery run after the
// lock is released.
type MonitorUseCase struct {
	market   domsvc.MarketData
	notifier domsvc.Notifier
	pub      domrepo.EventPublisher
	metrics  domrepo.Metrics
	log      *applogger.Logger
	poll     time.Duration

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	params      models.StrategyParams
	iv          models.Interval
	rules       engine.Rules
	state       models.LiveState
	lastZ       float64
	lastClose   float64
	livePrice   float64
	ticks       int64
	transitions int64
	startedAt   time.Time
	now         func() time.Time
}

func NewMonitorUseCase(
	market domsvc.MarketData,
	notifier domsvc.Notifier,
	pub domrepo.EventPublisher,
	metrics domrepo.Metrics,
	log *applogger.Logger,
	poll time.Duration,
) *MonitorUseCase {
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &MonitorUseCase{
		market:   market,
		notifier: notifier,
		pub:      pub,
		metrics:  metrics,
		log:      log,
		poll:     poll,
		now:      time.Now,
	}
}

// Start probes market data connectivity, resets session state, and launches
// the poll loop. A second Start while running fails with ErrMonitorRunning.
func (uc *MonitorUseCase) Start(ctx context.Context, req *models.MonitorStartRequest) error {
	uc.mu.Lock()
	if uc.running {
		uc.mu.Unlock()
		return ErrMonitorRunning
	}
	uc.running = true // reserve the session during the probe
	uc.mu.Unlock()

	params := req.Params()
	iv := models.NormalizeInterval(req.Interval)
	params.Interval = string(iv)

	if _, err := uc.market.FetchLatestClosedBar(ctx, params.Symbol, iv); err != nil {
		uc.mu.Lock()
		uc.running = false
		uc.mu.Unlock()
		return fmt.Errorf("market data probe: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	uc.mu.Lock()
	uc.cancel = cancel
	uc.params = params
	uc.iv = iv
	uc.rules = engine.FromParams(params)
	uc.state = models.LiveState{}
	uc.lastZ = 0
	uc.lastClose = 0
	uc.livePrice = 0
	uc.ticks = 0
	uc.transitions = 0
	uc.startedAt = uc.now().UTC()
	uc.mu.Unlock()

	delivered := uc.notifier.Send(ctx, fmt.Sprintf(
		"monitoring started: %s %s window=%d entry=%.2f exit=%.2f logic=%s side=%s",
		params.Symbol, iv, params.Window, params.EntryThreshold, params.ExitThreshold, params.Logic, params.Side))
	uc.metrics.RecordNotification(delivered)

	go uc.loop(loopCtx)
	uc.log.Info("monitor started",
		applogger.String("symbol", params.Symbol),
		applogger.String("interval", string(iv)),
		applogger.Int("window", params.Window))
	return nil
}

// Stop cancels the poll loop and resets all session state.
func (uc *MonitorUseCase) Stop() error {
	uc.mu.Lock()
	if !uc.running {
		uc.mu.Unlock()
		return ErrMonitorNotRunning
	}
	symbol := uc.params.Symbol
	cancel := uc.cancel
	uc.running = false
	uc.cancel = nil
	uc.params = models.StrategyParams{}
	uc.iv = ""
	uc.rules = engine.Rules{}
	uc.state = models.LiveState{}
	uc.lastZ = 0
	uc.lastClose = 0
	uc.livePrice = 0
	uc.ticks = 0
	uc.transitions = 0
	uc.startedAt = time.Time{}
	uc.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	uc.log.Info("monitor stopped", applogger.String("symbol", symbol))
	return nil
}

// Status returns a snapshot of the session.
func (uc *MonitorUseCase) Status() models.MonitorStatus {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	st := models.MonitorStatus{
		Running:     uc.running,
		Position:    uc.state.Position.String(),
		LastZ:       uc.lastZ,
		LastClose:   uc.lastClose,
		LivePrice:   uc.livePrice,
		Ticks:       uc.ticks,
		Transitions: uc.transitions,
	}
	if uc.running {
		st.Symbol = uc.params.Symbol
		st.Interval = string(uc.iv)
		if !uc.state.LastProcessedBar.IsZero() {
			t := uc.state.LastProcessedBar
			st.LastBar = &t
		}
		if !uc.startedAt.IsZero() {
			t := uc.startedAt
			st.StartedAt = &t
		}
	}
	return st
}

func (uc *MonitorUseCase) loop(ctx context.Context) {
	ticker := time.NewTicker(uc.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uc.pollOnce(ctx)
		}
	}
}

func (uc *MonitorUseCase) pollOnce(ctx context.Context) {
	if err := uc.Tick(ctx); err != nil && !errors.Is(err, ErrMonitorNotRunning) {
		uc.metrics.RecordError("monitor_poll")
		uc.log.Warn("monitor poll failed", applogger.Error(err))
	}
}

// Tick performs one poll iteration: fetch the trailing window, score the
// last closed bar, and apply it to the session. Re-polling the same closed
// bar is a no-op, so calling Tick more often than bars close is safe.
func (uc *MonitorUseCase) Tick(ctx context.Context) error {
	uc.mu.Lock()
	if !uc.running {
		uc.mu.Unlock()
		return ErrMonitorNotRunning
	}
	symbol, iv, window := uc.params.Symbol, uc.iv, uc.params.Window
	uc.mu.Unlock()

	now := uc.now().UTC()
	start := now.Add(-time.Duration(window+2) * iv.Duration())
	bars, err := uc.market.FetchSeries(ctx, symbol, start, now, iv)
	if err != nil {
		return err
	}
	// drop the still-open bar, if the exchange returned one
	for len(bars) > 0 {
		last := bars[len(bars)-1]
		if !last.Timestamp.Add(iv.Duration()).After(now) {
			break
		}
		bars = bars[:len(bars)-1]
	}
	sb, ok := engine.ScoreLast(bars, window)
	if !ok {
		return fmt.Errorf("insufficient closed bars: need %d, got %d", window, len(bars))
	}

	uc.mu.Lock()
	if !uc.running || uc.params.Symbol != symbol {
		uc.mu.Unlock()
		return nil // session stopped or replaced while fetching
	}
	out, ok := uc.commitBarLocked(sb)
	uc.mu.Unlock()
	if ok {
		uc.deliver(ctx, out)
	}
	return nil
}

// barOutcome captures one committed bar so delivery runs off the session
// lock. Status and tick handling must not wait on a webhook POST.
type barOutcome struct {
	symbol string
	iv     string
	bar    models.ScoredBar
	old    models.Position
	next   models.Position
	kind   models.SignalKind
	at     time.Time
}

// commitBarLocked advances the session by one scored closed bar. The caller
// holds mu. State commits before any notification or event delivery, so a
// delivery failure cannot roll the position back.
func (uc *MonitorUseCase) commitBarLocked(sb models.ScoredBar) (barOutcome, bool) {
	if !sb.Timestamp.After(uc.state.LastProcessedBar) {
		return barOutcome{}, false // already processed this bar
	}

	old := uc.state.Position
	next := uc.rules.LiveStep(old, sb.ZScore)
	kind := models.SignalKindFor(old, next)

	uc.state.Position = next
	uc.state.LastProcessedBar = sb.Timestamp
	uc.lastZ = sb.ZScore
	uc.lastClose = sb.Close
	if kind != models.SignalNone {
		uc.transitions++
	}

	return barOutcome{
		symbol: uc.params.Symbol,
		iv:     string(uc.iv),
		bar:    sb,
		old:    old,
		next:   next,
		kind:   kind,
		at:     uc.now().UTC(),
	}, true
}

// deliver publishes the signal event and sends the per-bar status update.
func (uc *MonitorUseCase) deliver(ctx context.Context, out barOutcome) {
	uc.metrics.RecordLastBar(out.symbol, out.bar.Timestamp.Unix())

	if out.kind != models.SignalNone {
		uc.metrics.RecordTransition(string(out.kind))
		if uc.pub != nil {
			ev := &models.SignalEvent{
				Symbol:   out.symbol,
				Interval: out.iv,
				Kind:     out.kind,
				From:     out.old,
				To:       out.next,
				BarTime:  out.bar.Timestamp,
				Close:    out.bar.Close,
				ZScore:   out.bar.ZScore,
				At:       out.at,
			}
			if err := uc.pub.PublishEvent(ctx, ev); err != nil {
				uc.metrics.RecordError("publish_event")
				uc.log.Warn("publish signal event failed", applogger.Error(err))
			}
		}
	}

	delivered := uc.notifier.Send(ctx, statusText(out))
	uc.metrics.RecordNotification(delivered)
	if !delivered {
		uc.log.Warn("status notification not delivered",
			applogger.String("symbol", out.symbol),
			applogger.String("bar", util.FormatBarTime(out.bar.Timestamp)))
	}
}

func statusText(out barOutcome) string {
	when := util.FormatBarTime(out.bar.Timestamp)
	if out.kind == models.SignalNone {
		return fmt.Sprintf("%s %s | position %s | close=%.6g z=%.4f | %s",
			out.symbol, out.iv, out.next, out.bar.Close, out.bar.ZScore, when)
	}
	return fmt.Sprintf("%s %s | %s: %s -> %s | close=%.6g z=%.4f | %s",
		out.symbol, out.iv, out.kind, out.old, out.next, out.bar.Close, out.bar.ZScore, when)
}

// Process consumes one live tick from the stream pipeline. Ticks update the
// price gauge and counters only; they never move the position.
func (uc *MonitorUseCase) Process(ctx context.Context, t *models.Tick) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if !uc.running || t == nil || t.Symbol != uc.params.Symbol {
		return nil
	}
	uc.livePrice = t.Price
	uc.ticks++
	return nil
}
