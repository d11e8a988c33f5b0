package http

import (
	"context"
	"net/http"
	"time"

	"github.com/habitforge/progression-hub/internal/application/command"
	"github.com/habitforge/progression-hub/internal/application/query"
	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReady pings every registered dependency. Any failure makes the whole
// instance not ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string, len(s.deps.Checks))
	for name, checker := range s.deps.Checks {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT INGESTION
// ══════════════════════════════════════════════════════════════════════════════

type habitStatsRequest struct {
	CurrentStreak       int `json:"current_streak"`
	BestStreak          int `json:"best_streak"`
	TotalCompletions    int `json:"total_completions"`
	ConsistencyRate     int `json:"consistency_rate"`
	ChallengesCompleted int `json:"challenges_completed"`
}

func (r habitStatsRequest) toDomain() shared.HabitStats {
	return shared.HabitStats{
		CurrentStreak:       r.CurrentStreak,
		BestStreak:          r.BestStreak,
		TotalCompletions:    r.TotalCompletions,
		ConsistencyRate:     shared.Percent(r.ConsistencyRate),
		ChallengesCompleted: r.ChallengesCompleted,
	}
}

type applyEventRequest struct {
	EventID     string            `json:"event_id"`
	UserID      string            `json:"user_id"`
	Type        string            `json:"type"`
	HabitID     string            `json:"habit_id,omitempty"`
	Date        time.Time         `json:"date,omitempty"`
	Stats       habitStatsRequest `json:"stats"`
	ChallengeID string            `json:"challenge_id,omitempty"`
	NewProgress int               `json:"new_progress,omitempty"`
	DaysMissed  int               `json:"days_missed,omitempty"`
	Timestamp   time.Time         `json:"timestamp,omitempty"`
}

type applyEventResponse struct {
	UserID               string     `json:"user_id"`
	EventID              string     `json:"event_id"`
	XPDelta              int        `json:"xp_delta"`
	NewTotalXP           int        `json:"new_total_xp"`
	NewLevel             int        `json:"new_level"`
	LevelsGained         int        `json:"levels_gained,omitempty"`
	Rewards              []string   `json:"rewards,omitempty"`
	UnlockedAchievements []string   `json:"unlocked_achievements,omitempty"`
	TokensRemaining      int        `json:"tokens_remaining"`
	ForgivenDate         *time.Time `json:"forgiven_date,omitempty"`
	RecoveryChallengeID  string     `json:"recovery_challenge_id,omitempty"`
	AppliedAt            time.Time  `json:"applied_at"`
}

// handleApplyEvent ingests one inbound habit event.
func (s *Server) handleApplyEvent(w http.ResponseWriter, r *http.Request) {
	var req applyEventRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cmd := command.ApplyEventCommand{
		EventID:       shared.EventID(req.EventID),
		UserID:        shared.UserID(req.UserID),
		Type:          command.InboundEventType(req.Type),
		HabitID:       shared.HabitID(req.HabitID),
		Date:          req.Date,
		Stats:         req.Stats.toDomain(),
		ChallengeID:   shared.ChallengeID(req.ChallengeID),
		NewProgress:   req.NewProgress,
		DaysMissed:    req.DaysMissed,
		Timestamp:     req.Timestamp,
		CorrelationID: requestIDFrom(r.Context()),
	}

	result, err := s.deps.ApplyEvent.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := applyEventResponse{
		UserID:          result.UserID.String(),
		EventID:         result.EventID.String(),
		XPDelta:         result.XPDelta,
		NewTotalXP:      result.NewTotalXP,
		NewLevel:        result.NewLevel,
		LevelsGained:    result.LevelsGained,
		Rewards:         result.Rewards,
		TokensRemaining: result.TokensRemaining,
		AppliedAt:       result.AppliedAt,
	}
	for _, a := range result.UnlockedAchievements {
		resp.UnlockedAchievements = append(resp.UnlockedAchievements, a.ID.String())
	}
	if result.Grant != nil {
		d := result.Grant.ForgivenDate
		resp.ForgivenDate = &d
	}
	if result.RecoveryChallenge != nil {
		resp.RecoveryChallengeID = result.RecoveryChallenge.ID.String()
	}
	s.writeJSON(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION READS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgression serves a user's progression snapshot, read through the
// cache when one is configured.
func (s *Server) handleGetProgression(w http.ResponseWriter, r *http.Request) {
	userID := shared.UserID(r.PathValue("id"))

	if s.deps.ProgressionCache != nil {
		if dto, ok := s.deps.ProgressionCache.GetProgression(r.Context(), userID); ok {
			s.writeJSON(w, r, http.StatusOK, dto)
			return
		}
	}

	dto, err := s.deps.GetProgression.Handle(r.Context(), query.GetProgressionQuery{UserID: userID})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if s.deps.ProgressionCache != nil {
		s.deps.ProgressionCache.SetProgression(r.Context(), userID, dto)
	}
	s.writeJSON(w, r, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	q := query.ListChallengesQuery{
		UserID:     shared.UserID(r.URL.Query().Get("user_id")),
		Pagination: paginationFrom(r),
	}

	challenges, err := s.deps.ListChallenges.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, challenges)
}

type joinChallengeRequest struct {
	UserID string `json:"user_id"`
}

type participationResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id"`
	Progress    int       `json:"progress"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	JoinedAt    time.Time `json:"joined_at"`
}

func (s *Server) handleJoinChallenge(w http.ResponseWriter, r *http.Request) {
	var req joinChallengeRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.JoinChallenge.Handle(r.Context(), command.JoinChallengeCommand{
		UserID:        shared.UserID(req.UserID),
		ChallengeID:   shared.ChallengeID(r.PathValue("id")),
		CorrelationID: requestIDFrom(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	p := result.Participation
	s.writeJSON(w, r, http.StatusCreated, participationResponse{
		ID:          p.ID,
		UserID:      p.UserID.String(),
		ChallengeID: p.ChallengeID.String(),
		Progress:    p.Progress.Int(),
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		JoinedAt:    p.JoinedAt,
	})
}

func (s *Server) handleGetStandings(w http.ResponseWriter, r *http.Request) {
	dto, err := s.deps.GetStandings.Handle(r.Context(), query.GetStandingsQuery{
		ChallengeID: shared.ChallengeID(r.PathValue("id")),
		Pagination:  paginationFrom(r),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, dto)
}

// ══════════════════════════════════════════════════════════════════════════════
// CHALLENGE ADMINISTRATION
// ══════════════════════════════════════════════════════════════════════════════

type createChallengeRequest struct {
	ID              string                  `json:"id"`
	Type            string                  `json:"type"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description,omitempty"`
	Requirements    []challenge.Requirement `json:"requirements"`
	DurationDays    int                     `json:"duration_days"`
	RewardXP        int                     `json:"reward_xp"`
	StartDate       time.Time               `json:"start_date"`
	MaxParticipants int                     `json:"max_participants,omitempty"`
}

func (s *Server) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.deps.CreateChallenge.Handle(r.Context(), command.CreateChallengeCommand{
		ChallengeID:     shared.ChallengeID(req.ID),
		Type:            challenge.Type(req.Type),
		Title:           req.Title,
		Description:     req.Description,
		Requirements:    req.Requirements,
		DurationDays:    req.DurationDays,
		RewardXP:        req.RewardXP,
		StartDate:       req.StartDate,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, toChallengeResponse(c))
}

type editChallengeRequest struct {
	Title        *string                 `json:"title,omitempty"`
	Description  *string                 `json:"description,omitempty"`
	StartDate    *time.Time              `json:"start_date,omitempty"`
	EndDate      *time.Time              `json:"end_date,omitempty"`
	RewardXP     *int                    `json:"reward_xp,omitempty"`
	Requirements []challenge.Requirement `json:"requirements,omitempty"`
}

func (s *Server) handleEditChallenge(w http.ResponseWriter, r *http.Request) {
	var req editChallengeRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := s.deps.EditChallenge.Handle(r.Context(), command.EditChallengeCommand{
		ChallengeID: shared.ChallengeID(r.PathValue("id")),
		Patch: challenge.EditPatch{
			Title:        req.Title,
			Description:  req.Description,
			StartDate:    req.StartDate,
			EndDate:      req.EndDate,
			RewardXP:     req.RewardXP,
			Requirements: req.Requirements,
		},
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, toChallengeResponse(c))
}

type challengeResponse struct {
	ID              string                  `json:"id"`
	Type            string                  `json:"type"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description,omitempty"`
	Requirements    []challenge.Requirement `json:"requirements"`
	DurationDays    int                     `json:"duration_days"`
	RewardXP        int                     `json:"reward_xp"`
	StartDate       time.Time               `json:"start_date"`
	EndDate         time.Time               `json:"end_date"`
	MaxParticipants int                     `json:"max_participants,omitempty"`
	RanksFinalized  bool                    `json:"ranks_finalized"`
}

func toChallengeResponse(c *challenge.Challenge) challengeResponse {
	return challengeResponse{
		ID:              c.ID.String(),
		Type:            string(c.Type),
		Title:           c.Title,
		Description:     c.Description,
		Requirements:    c.Requirements,
		DurationDays:    c.DurationDays,
		RewardXP:        c.RewardXP,
		StartDate:       c.StartDate,
		EndDate:         c.EndDate,
		MaxParticipants: c.MaxParticipants,
		RanksFinalized:  c.RanksFinalized,
	}
}

// paginationFrom reads page/page_size query parameters.
func paginationFrom(r *http.Request) shared.Pagination {
	return shared.NewPagination(
		queryInt(r, "page", 1),
		queryInt(r, "page_size", shared.DefaultPageSize),
	)
}
