package service

import (
	"context"
	"log"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"reportpilot/db"
	"reportpilot/faults"
	"reportpilot/models"
	"reportpilot/routing"
	"reportpilot/sources"
	"reportpilot/strategy"
	"reportpilot/telemetry"
	"reportpilot/workingset"
)

var tracer = otel.Tracer("reportpilot/service")

const degradedReply = "I couldn't finish that request because the assistant is unavailable right now. Please try again shortly."

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Summarizer condenses older turns for context compression.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, turns []models.Turn) (string, error)
}

// SourceLister is the registry view the API exposes.
type SourceLister interface {
	List() []sources.Source
}

type Deps struct {
	DB         *db.DB
	Store      *workingset.Store
	Router     *routing.Engine
	Strategies *strategy.Set
	Summarizer Summarizer
	Sources    SourceLister
	Logger     *slog.Logger
}

type Options struct {
	// RecentTurns caps the turns handed to routing and planning.
	RecentTurns int
	// CompressAfterTurns starts context compression; zero disables it.
	CompressAfterTurns int
	SummaryTimeout     time.Duration
	IdleTTL            time.Duration
	JanitorInterval    time.Duration
}

// Orchestrator runs interactions one at a time per session.
type Orchestrator struct {
	db         *db.DB
	store      *workingset.Store
	router     *routing.Engine
	strategies *strategy.Set
	summarizer Summarizer
	sources    SourceLister
	logger     *slog.Logger
	locks      *sessionLocks
	opts       Options
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.RecentTurns <= 0 {
		opts.RecentTurns = 5
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 60 * time.Second
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = 5 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		db:         deps.DB,
		store:      deps.Store,
		router:     deps.Router,
		strategies: deps.Strategies,
		summarizer: deps.Summarizer,
		sources:    deps.Sources,
		logger:     logger,
		locks:      newSessionLocks(),
		opts:       opts,
	}
}

// ValidateSessionID rejects ids that cannot be used as storage keys.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return faults.New(faults.PlanInvalid, "session", "invalid session id %q", id)
	}
	return nil
}

// RunInteraction routes query, runs the chosen strategy and commits the
// interaction. The session is created on its first interaction.
func (o *Orchestrator) RunInteraction(ctx context.Context, sessionID, query string) (*models.InteractionResult, error) {
	ctx, span := tracer.Start(ctx, "service.RunInteraction")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))
	start := time.Now()

	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	release, err := o.locks.acquire(ctx, sessionID)
	if err != nil {
		o.failed(sessionID, start, err)
		return nil, err
	}
	defer release()

	result, err := o.runLocked(ctx, sessionID, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.failed(sessionID, start, err)
		return nil, err
	}

	in := result.Interaction
	span.SetAttributes(
		attribute.String("strategy.routed", string(result.Routed)),
		attribute.String("strategy.executed", string(in.Strategy)),
		attribute.Int("interaction.seq", in.Seq),
	)
	outcome := "ok"
	if in.Degraded {
		outcome = "degraded"
	}
	telemetry.Interactions.WithLabelValues(string(in.Strategy), outcome).Inc()
	telemetry.InteractionDuration.WithLabelValues(string(in.Strategy)).Observe(time.Since(start).Seconds())
	o.logger.Info("interaction",
		"session", sessionID,
		"seq", in.Seq,
		"routed", result.Routed,
		"strategy", in.Strategy,
		"rows", in.RowCount,
		"degraded", in.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (o *Orchestrator) runLocked(ctx context.Context, sessionID, query string) (*models.InteractionResult, error) {
	session, err := o.ensureSession(sessionID, query)
	if err != nil {
		return nil, err
	}
	history, err := o.db.ListInteractions(sessionID)
	if err != nil {
		return nil, err
	}
	state, last := o.sessionState(session, history)

	decision, err := o.router.Route(ctx, query, state)
	if err != nil {
		return nil, err
	}

	seq := 1
	if n := len(history); n > 0 {
		seq = history[n-1].Seq + 1
	}
	// a table at seq has no interaction record: it was left by a turn that
	// never committed
	if err := o.store.Drop(ctx, workingset.Handle(sessionID, seq)); err != nil {
		return nil, err
	}
	req := strategy.Request{
		SessionID:   sessionID,
		Seq:         seq,
		Query:       decision.Query,
		Reply:       decision.Reply,
		Suggestions: decision.Suggestions,
		ChartKind:   decision.ChartKind,
		Last:        last,
		RecentTurns: state.RecentTurns,
		Summary:     session.Summary,
	}

	out, err := o.strategies.Run(ctx, decision.Strategy, req)
	degraded := decision.Degraded
	if err != nil && faults.Is(err, faults.Inference) && ctx.Err() == nil {
		log.Printf("[ORCHESTRATOR] %s for session %s hit an inference fault, replying conversationally: %v", decision.Strategy, sessionID, err)
		out = &strategy.Outcome{Strategy: models.StrategyConversation, Summary: degradedReply}
		degraded = true
		err = nil
	}
	if err != nil {
		return nil, err
	}
	if degraded {
		telemetry.DegradedReplies.Inc()
	}

	in := &models.Interaction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Seq:       seq,
		Query:     query,
		Strategy:  out.Strategy,
		Plan:      out.Plan,
		Chart:     out.Chart,
		Summary:   out.Summary,
		Table:     out.Table,
		SourceIDs: out.Provenance.SourceIDs,
		Tables:    out.Provenance.Tables,
		RowCount:  out.Result.RowCount(),
		Degraded:  degraded,
		CreatedAt: time.Now().UTC(),
	}
	if out.Plan != nil && !out.Plan.NoMatch {
		in.PlanSQL = out.Plan.Display()
	}
	if err := o.db.PutInteraction(in); err != nil {
		if out.NewTable && out.Table != nil {
			o.dropTable(*out.Table)
		}
		return nil, err
	}

	o.compress(ctx, sessionID, append(history, in))

	return &models.InteractionResult{
		SessionID:   sessionID,
		Interaction: in,
		Result:      out.Result,
		Suggestions: out.Suggestions,
		Routed:      decision.Strategy,
	}, nil
}

// ensureSession loads the session, creating it with a title taken from the
// first query.
func (o *Orchestrator) ensureSession(sessionID, query string) (*models.Session, error) {
	session, err := o.db.GetSession(sessionID)
	if err == nil {
		return session, nil
	}
	if !faults.Is(err, faults.NotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	session = &models.Session{ID: sessionID, Title: titleFrom(query), CreatedAt: now, LastActive: now}
	if err := o.db.PutSession(session); err != nil {
		return nil, err
	}
	log.Printf("[ORCHESTRATOR] Created session %s", sessionID)
	return session, nil
}

// sessionState describes the session for routing and returns the newest
// interaction that owns a working-set table.
func (o *Orchestrator) sessionState(session *models.Session, history []*models.Interaction) (routing.SessionState, *models.Interaction) {
	state := routing.SessionState{TurnCount: len(history), Summary: session.Summary}
	var last *models.Interaction
	for i := len(history) - 1; i >= 0; i-- {
		in := history[i]
		if state.LastChartKind == "" && in.Chart != nil {
			state.LastChartKind = in.Chart.Kind
		}
		if last == nil && in.Table != nil {
			last = in
		}
	}
	state.HasTable = last != nil

	var recent []models.Turn
	for _, in := range history {
		if in.Seq > session.SummarizedUpTo {
			recent = append(recent, in.Turn())
		}
	}
	if len(recent) > o.opts.RecentTurns {
		recent = recent[len(recent)-o.opts.RecentTurns:]
	}
	state.RecentTurns = recent
	return state, last
}

func (o *Orchestrator) failed(sessionID string, start time.Time, err error) {
	kind := faults.KindOf(err)
	outcome := string(kind)
	if outcome == "" {
		outcome = "error"
	}
	telemetry.Interactions.WithLabelValues("none", outcome).Inc()
	o.logger.Warn("interaction failed",
		"session", sessionID,
		"kind", outcome,
		"error", err.Error(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (o *Orchestrator) dropTable(handle models.TableHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.Drop(ctx, handle); err != nil {
		log.Printf("[ORCHESTRATOR] Failed to drop uncommitted table %s: %v", handle.Name, err)
	}
}

// EndSession reclaims the session's working set and deletes its records.
// Ending an unknown session succeeds.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "service.EndSession")
	defer span.End()

	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	release, err := o.locks.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return o.end(ctx, sessionID)
}

func (o *Orchestrator) end(ctx context.Context, sessionID string) error {
	if err := o.store.Reclaim(ctx, sessionID); err != nil {
		return err
	}
	if err := o.db.DeleteSession(sessionID); err != nil {
		return err
	}
	telemetry.SessionsReclaimed.Inc()
	log.Printf("[ORCHESTRATOR] Ended session %s", sessionID)
	return nil
}

func (o *Orchestrator) CreateSession(title string) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New report"
	}
	now := time.Now().UTC()
	s := &models.Session{ID: uuid.New().String(), Title: title, CreatedAt: now, LastActive: now}
	if err := o.db.PutSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (o *Orchestrator) ListSessions() ([]*models.Session, error) {
	return o.db.ListSessions()
}

func (o *Orchestrator) GetSession(sessionID string) (*models.SessionDetail, error) {
	s, err := o.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	interactions, err := o.db.ListInteractions(sessionID)
	if err != nil {
		return nil, err
	}
	if interactions == nil {
		interactions = []*models.Interaction{}
	}
	return &models.SessionDetail{Session: s, Interactions: interactions}, nil
}

func (o *Orchestrator) Sources() []models.SourceInfo {
	if o.sources == nil {
		return []models.SourceInfo{}
	}
	list := o.sources.List()
	out := make([]models.SourceInfo, len(list))
	for i, s := range list {
		out[i] = models.SourceInfo{ID: s.ID(), Kind: s.Kind()}
	}
	return out
}

func titleFrom(query string) string {
	title := strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(title) > 50 {
		title = string([]rune(title)[:50]) + "..."
	}
	if title == "" {
		title = "New report"
	}
	return title
}
