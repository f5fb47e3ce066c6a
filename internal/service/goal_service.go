package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/castlemilk/pfinance-insights/internal/logger"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/castlemilk/pfinance-insights/internal/store"
	"github.com/rs/zerolog"
)

const (
	savingsWindowDays = 30
	maxGoalNameLength = 255
)

// CompletionNotifier is told when a progress update completes a goal.
type CompletionNotifier interface {
	GoalCompleted(ctx context.Context, goal *model.Goal)
}

// GoalInput holds the fields of a new goal.
type GoalInput struct {
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	TargetAmount  float64   `json:"target_amount"`
	CurrentAmount float64   `json:"current_amount,omitempty"`
	Deadline      time.Time `json:"deadline"`
}

// GoalProgressView is a goal with its computed progress figures.
type GoalProgressView struct {
	Goal               *model.Goal `json:"goal"`
	ProgressPercentage float64     `json:"progress_percentage"`
	Remaining          float64     `json:"remaining"`
	DaysRemaining      int         `json:"days_remaining"`
	ProjectedDate      *time.Time  `json:"projected_date,omitempty"`
	MonthlyNeeded      float64     `json:"monthly_needed"`
}

// GoalRecommendation suggests a savings goal sized from the savings rate.
type GoalRecommendation struct {
	Type            string  `json:"type"`
	SuggestedAmount float64 `json:"suggested_amount"`
	TimeframeMonths int     `json:"timeframe_months"`
	Priority        string  `json:"priority"`
	Description     string  `json:"description"`
}

// GoalService manages savings goals and projects their completion.
type GoalService struct {
	store    store.Store
	log      zerolog.Logger
	now      func() time.Time
	notifier CompletionNotifier
}

func NewGoalService(st store.Store, log zerolog.Logger) *GoalService {
	return &GoalService{
		store: st,
		log:   logger.Component(log, "goal_service"),
		now:   time.Now,
	}
}

// SetCompletionNotifier registers the observer told about completed goals.
func (s *GoalService) SetCompletionNotifier(n CompletionNotifier) {
	s.notifier = n
}

func (s *GoalService) CreateGoal(ctx context.Context, userID string, in GoalInput) (*model.Goal, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, validationErrorf("name is required")
	case len(name) > maxGoalNameLength:
		return nil, validationErrorf("name must be at most %d characters", maxGoalNameLength)
	case in.TargetAmount <= 0:
		return nil, validationErrorf("target_amount must be greater than zero")
	case in.CurrentAmount < 0:
		return nil, validationErrorf("current_amount must not be negative")
	}

	now := s.now().UTC()
	if !in.Deadline.After(now) {
		return nil, validationErrorf("Deadline must be in the future")
	}

	goal := &model.Goal{
		UserID:        userID,
		Name:          name,
		Description:   in.Description,
		TargetAmount:  in.TargetAmount,
		CurrentAmount: in.CurrentAmount,
		Deadline:      in.Deadline.UTC(),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateGoal(ctx, goal); err != nil {
		return nil, wrapStoreError("create goal", err)
	}
	return goal, nil
}

func (s *GoalService) GetGoal(ctx context.Context, userID, goalID string) (*model.Goal, error) {
	goal, err := s.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, wrapStoreError("get goal", err)
	}
	if goal.UserID != userID {
		return nil, fmt.Errorf("goal %s: %w", goalID, store.ErrNotFound)
	}
	return goal, nil
}

func (s *GoalService) ListGoals(ctx context.Context, userID string, activeOnly bool) ([]*model.Goal, error) {
	goals, err := s.store.ListGoals(ctx, userID, activeOnly)
	if err != nil {
		return nil, wrapStoreError("list goals", err)
	}
	return goals, nil
}

func (s *GoalService) DeleteGoal(ctx context.Context, userID, goalID string) error {
	if _, err := s.GetGoal(ctx, userID, goalID); err != nil {
		return err
	}
	if err := s.store.DeleteGoal(ctx, goalID); err != nil {
		return wrapStoreError("delete goal", err)
	}
	return nil
}

// UpdateGoalProgress adds delta to the goal's current amount. Reaching the
// target deactivates the goal and notifies the completion observer.
func (s *GoalService) UpdateGoalProgress(ctx context.Context, userID, goalID string, delta float64) (*model.Goal, error) {
	goal, err := s.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	wasActive := goal.IsActive
	goal.CurrentAmount += delta
	goal.UpdatedAt = s.now().UTC()
	if goal.IsComplete() {
		goal.IsActive = false
	}

	if err := s.store.UpdateGoal(ctx, goal); err != nil {
		return nil, wrapStoreError("update goal", err)
	}

	if wasActive && !goal.IsActive {
		s.log.Info().Str("user_id", userID).Str("goal_id", goalID).Msg("goal completed")
		if s.notifier != nil {
			s.notifier.GoalCompleted(ctx, goal)
		}
	}
	return goal, nil
}

// CalculateSavingsRate is income minus expenses over the trailing 30 days,
// floored at zero.
func (s *GoalService) CalculateSavingsRate(ctx context.Context, userID string) (float64, error) {
	since := s.now().UTC().AddDate(0, 0, -savingsWindowDays)

	income, err := s.store.AggregateTransactions(ctx, store.TransactionFilter{
		UserID: userID,
		Type:   model.TransactionTypeIncome,
		Start:  since,
	})
	if err != nil {
		return 0, wrapStoreError("sum income", err)
	}
	expenses, err := s.store.AggregateTransactions(ctx, store.TransactionFilter{
		UserID: userID,
		Type:   model.TransactionTypeExpense,
		Start:  since,
	})
	if err != nil {
		return 0, wrapStoreError("sum expenses", err)
	}

	return math.Max(0, income.Sum-expenses.Sum), nil
}

// ProjectGoalCompletion estimates when the goal will be met at the current
// savings rate. It returns nil when nothing is being saved.
func (s *GoalService) ProjectGoalCompletion(ctx context.Context, goal *model.Goal) (*time.Time, error) {
	now := s.now().UTC()
	if goal.IsComplete() {
		return &now, nil
	}

	rate, err := s.CalculateSavingsRate(ctx, goal.UserID)
	if err != nil {
		return nil, err
	}
	return projectCompletion(goal, rate, now), nil
}

func projectCompletion(goal *model.Goal, monthlySavings float64, now time.Time) *time.Time {
	if goal.IsComplete() {
		return &now
	}
	if monthlySavings <= 0 {
		return nil
	}
	months := (goal.TargetAmount - goal.CurrentAmount) / monthlySavings
	projected := now.AddDate(0, 0, int(months*30))
	return &projected
}

// monthlyNeeded is what must be saved each month to reach the target by the
// deadline; a past deadline needs the full remainder now.
func monthlyNeeded(goal *model.Goal, now time.Time) float64 {
	remaining := goal.Remaining()
	if remaining == 0 {
		return 0
	}
	months := goal.Deadline.Sub(now).Hours() / 24 / 30
	if months < 1 {
		return roundCents(remaining)
	}
	return roundCents(remaining / months)
}

func daysUntil(deadline, now time.Time) int {
	days := int(deadline.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// GoalProgress returns the goal with its progress, projection and the monthly
// savings needed to meet the deadline.
func (s *GoalService) GoalProgress(ctx context.Context, userID, goalID string) (*GoalProgressView, error) {
	goal, err := s.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	projected, err := s.ProjectGoalCompletion(ctx, goal)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	return &GoalProgressView{
		Goal:               goal,
		ProgressPercentage: roundCents(goal.Progress() * 100),
		Remaining:          roundCents(goal.Remaining()),
		DaysRemaining:      daysUntil(goal.Deadline, now),
		ProjectedDate:      projected,
		MonthlyNeeded:      monthlyNeeded(goal, now),
	}, nil
}

// GetGoalRecommendations suggests emergency, vacation and investment funds
// sized from the user's savings rate. Nothing is suggested without savings.
func (s *GoalService) GetGoalRecommendations(ctx context.Context, userID string) ([]GoalRecommendation, error) {
	rate, err := s.CalculateSavingsRate(ctx, userID)
	if err != nil {
		return nil, err
	}

	recs := []GoalRecommendation{}
	if rate <= 0 {
		return recs, nil
	}
	return append(recs,
		GoalRecommendation{
			Type:            "Emergency Fund",
			SuggestedAmount: roundCents(rate * 6),
			TimeframeMonths: 6,
			Priority:        "high",
			Description:     "6 months of expenses for emergency situations",
		},
		GoalRecommendation{
			Type:            "Vacation Fund",
			SuggestedAmount: roundCents(rate * 3),
			TimeframeMonths: 12,
			Priority:        "medium",
			Description:     "Save for your dream vacation",
		},
		GoalRecommendation{
			Type:            "Investment Fund",
			SuggestedAmount: roundCents(rate * 12),
			TimeframeMonths: 24,
			Priority:        "medium",
			Description:     "Build wealth through investments",
		},
	), nil
}
