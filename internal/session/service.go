package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/EricBell/profile-gpt/internal/ai"
	"github.com/EricBell/profile-gpt/internal/config"
	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/email"
	"github.com/EricBell/profile-gpt/internal/intent"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/querylog"
	"github.com/EricBell/profile-gpt/internal/store"
	"github.com/EricBell/profile-gpt/internal/usage"
	"go.uber.org/zap"
)

const (
	personaTemperature = 0.7
	personaMaxTokens   = 500
)

// Kind tells the caller which branch produced a reply.
type Kind string

const (
	KindAnswer         Kind = "answer"
	KindRefusal        Kind = "refusal"
	KindWarning        Kind = "warning"
	KindLimitReached   Kind = "limit_reached"
	KindResetRequested Kind = "reset_requested"
	KindResetPending   Kind = "reset_pending"
)

type Counters struct {
	InScope    int `json:"in_scope_count"`
	OutOfScope int `json:"out_of_scope_count"`
	Total      int `json:"total_turns"`
}

type Reply struct {
	Kind           Kind                `json:"kind"`
	Text           string              `json:"response"`
	Status         domain.Status       `json:"status"`
	PreviousStatus domain.Status       `json:"previous_status"`
	Reason         domain.CutoffReason `json:"cutoff_reason,omitempty"`
	Counters
	MaxQueries     int    `json:"max_queries"`
	Remaining      int    `json:"queries_remaining"`
	FilteredPreLLM bool   `json:"filtered_pre_llm"`
	Degraded       bool   `json:"classifier_degraded,omitempty"`
	RequestID      string `json:"reset_request_id,omitempty"`
}

// Classifier decides whether a message is in scope.
type Classifier interface {
	Classify(ctx context.Context, sessionID, message string, history []domain.Turn) intent.Verdict
}

// Resets is the part of the reset request manager the state machine uses.
type Resets interface {
	CreateOrUpdate(ctx context.Context, sessionID, address string) (*domain.ResetRequest, error)
	Pending(ctx context.Context, sessionID string) (*domain.ResetRequest, error)
}

// Deps aggregates the collaborators of the state machine.
type Deps struct {
	Sessions   store.SessionStore
	Classifier Classifier
	Model      ai.Model
	Resets     Resets
	Usage      usage.Recorder
	Queries    querylog.Recorder
	Logger     *zap.Logger
}

type Service struct {
	deps         Deps
	name         string
	personaModel string
	logger       *zap.Logger
	locks        *keyedMutex
	now          func() time.Time
}

// NewService builds the state machine for the persona called name. An empty
// personaModel uses the model's default.
func NewService(deps Deps, name, personaModel string) *Service {
	if deps.Usage == nil {
		deps.Usage = usage.Nop{}
	}
	if deps.Queries == nil {
		deps.Queries = querylog.Nop{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Service{
		deps:         deps,
		name:         strings.TrimSpace(name),
		personaModel: strings.TrimSpace(personaModel),
		locks:        newKeyedMutex(),
		now:          time.Now,
	}
	s.logger = logger.WithCommonFields(log, deps.Model.Provider(), s.modelName()).With(zap.String("component", "session"))
	return s
}

// HandleMessage runs one visitor message through the state machine.
// Validation errors are returned before the session is read; model failures
// come back as *domain.DependencyError with the counters untouched.
func (s *Service) HandleMessage(ctx context.Context, sessionID, raw string, snap config.Snapshot) (*Reply, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, domain.ErrEmptyInput
	}
	if n := utf8.RuneCountInString(text); n > snap.Tunables.MaxQueryLength {
		return nil, &domain.InputTooLongError{Field: "message", Max: snap.Tunables.MaxQueryLength, Got: n}
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	log := logger.WithSession(s.logger, sessionID)

	sess, err := s.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		sess = domain.NewSession(sessionID, s.now())
	}

	limits := snap.Limits()
	status, reason := sess.Status(limits)
	if status == domain.StatusCutOff {
		return s.cutOff(ctx, log, sess, text, reason, limits)
	}

	clean := ai.Sanitize(text)
	if clean == "" {
		return nil, domain.ErrEmptyInput
	}

	verdict := s.deps.Classifier.Classify(ctx, sessionID, clean, sess.History)
	if verdict.Scope == domain.ScopeOut {
		return s.outOfScope(ctx, log, sessionID, clean, verdict, status, limits)
	}
	return s.inScope(ctx, log, sess, clean, verdict, status, snap)
}

func (s *Service) cutOff(ctx context.Context, log *zap.Logger, sess *domain.Session, text string, reason domain.CutoffReason, limits domain.Limits) (*Reply, error) {
	reply := s.reply(sess, domain.StatusCutOff, limits)
	reply.FilteredPreLLM = true
	category := querylog.CategoryScopeLimit
	if reason == domain.CutoffTotalLimit {
		category = querylog.CategorySessionLimit
	}

	if address, ok := email.Detect(text); ok {
		req, err := s.deps.Resets.CreateOrUpdate(ctx, sess.ID, address)
		if err != nil {
			return nil, fmt.Errorf("filing reset request: %w", err)
		}
		reply.Kind = KindResetRequested
		reply.Text = ResetRequestedText
		reply.RequestID = req.ID
		category = querylog.CategoryResetRequest
	} else {
		pending, err := s.deps.Resets.Pending(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("looking up reset request: %w", err)
		}
		if pending != nil {
			reply.Kind = KindResetPending
			reply.Text = ResetPendingText
			reply.RequestID = pending.ID
			category = querylog.CategoryResetPending
		} else {
			reply.Kind = KindLimitReached
			reply.Text = limitText(reason, limits)
		}
	}

	log.Info("session cut off", zap.String("reason", string(reason)), zap.String("reply", string(reply.Kind)))
	s.logQuery(ctx, sess.ID, text, reply.Text, category)
	return reply, nil
}

func (s *Service) outOfScope(ctx context.Context, log *zap.Logger, sessionID, message string, verdict intent.Verdict, before domain.Status, limits domain.Limits) (*Reply, error) {
	var latest *domain.Session
	sess, err := store.UpdateSession(ctx, s.deps.Sessions, sessionID, s.now, func(sess *domain.Session) error {
		if err := stillOpen(sess, limits); err != nil {
			latest = sess
			return err
		}
		sess.OutOfScopeCount++
		return nil
	})
	if errors.Is(err, errCutOff) {
		return s.cutOffMeanwhile(ctx, log, latest, message, limits)
	}
	if err != nil {
		return nil, fmt.Errorf("recording out of scope message: %w", err)
	}

	reply := s.reply(sess, before, limits)
	reply.FilteredPreLLM = true

	if sess.OutOfScopeCount >= limits.Warning {
		reply.Kind = KindWarning
		reply.Text = WarningText(s.personaName())
	} else {
		reply.Kind = KindRefusal
		reply.Text = verdict.Refusal
	}

	if reply.Status != before {
		log.Info("session status changed",
			zap.String("from", string(before)),
			zap.String("to", string(reply.Status)),
			zap.Int("out_of_scope_count", sess.OutOfScopeCount),
		)
	}

	s.logQuery(ctx, sessionID, message, reply.Text, querylog.CategoryOutOfScope)
	return reply, nil
}

func (s *Service) inScope(ctx context.Context, log *zap.Logger, sess *domain.Session, message string, verdict intent.Verdict, before domain.Status, snap config.Snapshot) (*Reply, error) {
	historyLimit := snap.Tunables.ConversationHistoryLimit

	completion, err := s.deps.Model.Generate(ctx, ai.Request{
		Model:       s.personaModel,
		System:      snap.Persona,
		History:     domain.TruncateHistory(sess.History, historyLimit),
		Prompt:      message,
		Temperature: personaTemperature,
		MaxTokens:   personaMaxTokens,
	})
	if err == nil && (completion == nil || strings.TrimSpace(completion.Text) == "") {
		err = errors.New("empty reply")
	}
	s.deps.Usage.Record(ctx, usage.NewEvent(sess.ID, domain.CallConversation, domain.ScopeIn, s.modelName(), completion, err))
	if err != nil {
		depErr := &domain.DependencyError{Op: "persona reply", Err: err}
		log.Error("persona model call failed", zap.Error(depErr))
		return nil, depErr
	}

	answer := strings.TrimSpace(completion.Text)
	limits := snap.Limits()
	var latest *domain.Session
	updated, err := store.UpdateSession(ctx, s.deps.Sessions, sess.ID, s.now, func(sess *domain.Session) error {
		if err := stillOpen(sess, limits); err != nil {
			latest = sess
			return err
		}
		sess.InScopeCount++
		sess.AppendTurns(historyLimit,
			domain.Turn{Role: domain.RoleUser, Content: message},
			domain.Turn{Role: domain.RoleAssistant, Content: answer},
		)
		return nil
	})
	if errors.Is(err, errCutOff) {
		log.Warn("discarding persona reply, session was cut off by a concurrent request")
		return s.cutOffMeanwhile(ctx, log, latest, message, limits)
	}
	if err != nil {
		return nil, fmt.Errorf("recording answered message: %w", err)
	}

	reply := s.reply(updated, before, limits)
	reply.Kind = KindAnswer
	reply.Text = answer
	reply.Degraded = verdict.Degraded

	s.logQuery(ctx, sess.ID, message, answer, "")
	return reply, nil
}

// errCutOff aborts a counter update when the stored session crossed a limit
// after it was first read, e.g. by another instance sharing the store.
var errCutOff = errors.New("session already cut off")

func stillOpen(sess *domain.Session, limits domain.Limits) error {
	if status, _ := sess.Status(limits); status == domain.StatusCutOff {
		return errCutOff
	}
	return nil
}

// cutOffMeanwhile answers as if the session had been cut off when the
// message arrived.
func (s *Service) cutOffMeanwhile(ctx context.Context, log *zap.Logger, sess *domain.Session, text string, limits domain.Limits) (*Reply, error) {
	_, reason := sess.Status(limits)
	return s.cutOff(ctx, log, sess, text, reason, limits)
}

// reply fills the fields every branch shares from the session as it now stands.
func (s *Service) reply(sess *domain.Session, before domain.Status, limits domain.Limits) *Reply {
	status, reason := sess.Status(limits)
	return &Reply{
		Status:         status,
		PreviousStatus: before,
		Reason:         reason,
		Counters: Counters{
			InScope:    sess.InScopeCount,
			OutOfScope: sess.OutOfScopeCount,
			Total:      sess.TotalTurns(),
		},
		MaxQueries: limits.Total,
		Remaining:  sess.Remaining(limits),
	}
}

func (s *Service) logQuery(ctx context.Context, sessionID, query, response, category string) {
	s.deps.Queries.Log(ctx, querylog.Entry{
		SessionID:      sessionID,
		Timestamp:      s.now(),
		Query:          query,
		Response:       response,
		FilteredPreLLM: category != "",
		FilterCategory: category,
	})
}

// Report is the read-only view served by the status endpoint.
type Report struct {
	Status domain.Status       `json:"status"`
	Reason domain.CutoffReason `json:"cutoff_reason,omitempty"`
	Counters
	MaxQueries          int  `json:"max_queries"`
	Remaining           int  `json:"queries_remaining"`
	WarningThreshold    int  `json:"out_of_scope_warning_threshold"`
	CutoffThreshold     int  `json:"out_of_scope_cutoff_threshold"`
	OutOfScopeRemaining int  `json:"out_of_scope_remaining"`
	ResetPending        bool `json:"reset_pending"`
}

// Status reports the session's counters without changing anything.
func (s *Service) Status(ctx context.Context, sessionID string, t config.Tunables) (*Report, error) {
	sess, err := s.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		sess = domain.NewSession(sessionID, s.now())
	}

	limits := t.Limits()
	status, reason := sess.Status(limits)
	report := &Report{
		Status: status,
		Reason: reason,
		Counters: Counters{
			InScope:    sess.InScopeCount,
			OutOfScope: sess.OutOfScopeCount,
			Total:      sess.TotalTurns(),
		},
		MaxQueries:       limits.Total,
		Remaining:        sess.Remaining(limits),
		WarningThreshold: limits.Warning,
		CutoffThreshold:  limits.Cutoff,
	}
	if left := limits.Cutoff - sess.OutOfScopeCount; left > 0 {
		report.OutOfScopeRemaining = left
	}

	if status == domain.StatusCutOff {
		pending, err := s.deps.Resets.Pending(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("looking up reset request: %w", err)
		}
		report.ResetPending = pending != nil
	}
	return report, nil
}

func (s *Service) personaName() string {
	if s.name == "" {
		return "Eric"
	}
	return s.name
}

func (s *Service) modelName() string {
	if s.personaModel != "" {
		return s.personaModel
	}
	return s.deps.Model.DefaultModel()
}
