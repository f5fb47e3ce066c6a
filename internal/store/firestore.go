package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/castlemilk/pfinance-insights/internal/model"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	colTransactions = "transactions"
	colRecurring    = "recurringCharges"
	colBudgets      = "budgets"
	colGoals        = "goals"
	colAlerts       = "alerts"

	// Firestore rejects batches above 500 writes.
	maxBatchWrites = 500
)

// recurringNamespace seeds deterministic recurring-charge document IDs so the
// (user, merchant) key maps to exactly one document.
var recurringNamespace = uuid.MustParse("5b0f9a8e-3c1d-4e7a-9f2b-6d8c1e4a7b30")

// RecurringChargeID returns the deterministic ID for a (user, merchant) pair.
func RecurringChargeID(userID, merchant string) string {
	return uuid.NewSHA1(recurringNamespace, []byte(recurringKey(userID, merchant))).String()
}

// FirestoreStore implements the Store interface using Firestore
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a new Firestore-backed store
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client: client,
	}
}

// alertDoc is the stored form of an alert; metadata is kept as its JSON
// envelope since Firestore cannot decode into an interface.
type alertDoc struct {
	ID          string
	UserID      string
	Type        string
	Title       string
	Description string
	IsRead      bool
	DedupKey    string
	Metadata    string
	CreatedAt   time.Time
	ReadAt      *time.Time
}

func toAlertDoc(a *model.Alert) (*alertDoc, error) {
	meta, err := model.MarshalMetadata(a.Metadata)
	if err != nil {
		return nil, err
	}
	return &alertDoc{
		ID:          a.ID,
		UserID:      a.UserID,
		Type:        string(a.Type),
		Title:       a.Title,
		Description: a.Description,
		IsRead:      a.IsRead,
		DedupKey:    a.DedupKey,
		Metadata:    string(meta),
		CreatedAt:   a.CreatedAt,
		ReadAt:      a.ReadAt,
	}, nil
}

func (d *alertDoc) toModel() (*model.Alert, error) {
	meta, err := model.UnmarshalMetadata([]byte(d.Metadata))
	if err != nil {
		return nil, err
	}
	return &model.Alert{
		ID:          d.ID,
		UserID:      d.UserID,
		Type:        model.AlertType(d.Type),
		Title:       d.Title,
		Description: d.Description,
		IsRead:      d.IsRead,
		DedupKey:    d.DedupKey,
		Metadata:    meta,
		CreatedAt:   d.CreatedAt,
		ReadAt:      d.ReadAt,
	}, nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *FirestoreStore) transactionQuery(filter TransactionFilter) firestore.Query {
	query := s.client.Collection(colTransactions).Query
	if filter.UserID != "" {
		query = query.Where("UserID", "==", filter.UserID)
	}
	if filter.Type != "" {
		query = query.Where("Type", "==", string(filter.Type))
	}
	if filter.Category != "" {
		query = query.Where("Category", "==", filter.Category)
	}
	if filter.Merchant != "" {
		query = query.Where("Merchant", "==", filter.Merchant)
	}
	if filter.AnomalousOnly {
		query = query.Where("IsAnomaly", "==", true)
	}
	if !filter.Start.IsZero() {
		query = query.Where("Date", ">=", filter.Start)
	}
	if !filter.End.IsZero() {
		query = query.Where("Date", "<=", filter.End)
	}
	return query
}

// commitInBatches applies fn to each document reference in chunks of
// maxBatchWrites writes.
func (s *FirestoreStore) commitInBatches(ctx context.Context, refs []*firestore.DocumentRef, fn func(*firestore.WriteBatch, *firestore.DocumentRef)) error {
	for i := 0; i < len(refs); i += maxBatchWrites {
		end := i + maxBatchWrites
		if end > len(refs) {
			end = len(refs)
		}
		batch := s.client.Batch()
		for _, ref := range refs[i:end] {
			fn(batch, ref)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Transaction operations

func (s *FirestoreStore) CreateTransactions(ctx context.Context, txs []*model.Transaction) error {
	now := time.Now().UTC()
	for i := 0; i < len(txs); i += maxBatchWrites {
		end := i + maxBatchWrites
		if end > len(txs) {
			end = len(txs)
		}
		batch := s.client.Batch()
		for _, tx := range txs[i:end] {
			if tx.ID == "" {
				tx.ID = uuid.New().String()
			}
			if tx.CreatedAt.IsZero() {
				tx.CreatedAt = now
			}
			batch.Set(s.client.Collection(colTransactions).Doc(tx.ID), tx)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return fmt.Errorf("failed to write transactions: %w", err)
		}
	}
	return nil
}

func (s *FirestoreStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.Transaction, error) {
	query := s.transactionQuery(filter).OrderBy("Date", firestore.Desc)
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	txs := make([]*model.Transaction, 0, len(docs))
	for _, doc := range docs {
		var tx model.Transaction
		if err := doc.DataTo(&tx); err != nil {
			return nil, fmt.Errorf("failed to parse transaction: %w", err)
		}
		txs = append(txs, &tx)
	}
	return txs, nil
}

func (s *FirestoreStore) AggregateTransactions(ctx context.Context, filter TransactionFilter) (Aggregate, error) {
	iter := s.transactionQuery(filter).Select("Amount").Documents(ctx)
	defer iter.Stop()

	var agg Aggregate
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return Aggregate{}, fmt.Errorf("failed to aggregate transactions: %w", err)
		}
		switch v := doc.Data()["Amount"].(type) {
		case float64:
			agg.Sum += v
		case int64:
			agg.Sum += float64(v)
		}
		agg.Count++
	}
	return agg, nil
}

func (s *FirestoreStore) MarkRecurring(ctx context.Context, userID, merchant string) (int, error) {
	docs, err := s.client.Collection(colTransactions).
		Where("UserID", "==", userID).
		Where("Merchant", "==", merchant).
		Where("IsRecurring", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to query transactions for %s: %w", merchant, err)
	}

	refs := make([]*firestore.DocumentRef, 0, len(docs))
	for _, doc := range docs {
		refs = append(refs, doc.Ref)
	}
	err = s.commitInBatches(ctx, refs, func(b *firestore.WriteBatch, ref *firestore.DocumentRef) {
		b.Update(ref, []firestore.Update{{Path: "IsRecurring", Value: true}})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark transactions recurring: %w", err)
	}
	return len(refs), nil
}

func (s *FirestoreStore) SetAnomaly(ctx context.Context, transactionID string, score float64) error {
	_, err := s.client.Collection(colTransactions).Doc(transactionID).Update(ctx, []firestore.Update{
		{Path: "IsAnomaly", Value: true},
		{Path: "AnomalyScore", Value: score},
	})
	if isNotFound(err) {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return err
}

// Recurring charge operations

func (s *FirestoreStore) UpsertRecurringCharge(ctx context.Context, rc *model.RecurringCharge) (bool, error) {
	ref := s.client.Collection(colRecurring).Doc(RecurringChargeID(rc.UserID, rc.Merchant))
	created := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		now := time.Now().UTC()
		snap, err := t.Get(ref)
		switch {
		case err == nil:
			var existing model.RecurringCharge
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("failed to parse recurring charge: %w", err)
			}
			rc.IsActive = existing.IsActive
			rc.CreatedAt = existing.CreatedAt
			created = false
		case isNotFound(err):
			rc.IsActive = true
			rc.CreatedAt = now
			created = true
		default:
			return err
		}
		rc.ID = ref.ID
		rc.UpdatedAt = now
		return t.Set(ref, rc)
	})
	if err != nil {
		return false, fmt.Errorf("failed to upsert recurring charge: %w", err)
	}
	return created, nil
}

func (s *FirestoreStore) ListRecurringCharges(ctx context.Context, userID string, activeOnly bool) ([]*model.RecurringCharge, error) {
	query := s.client.Collection(colRecurring).Query
	if userID != "" {
		query = query.Where("UserID", "==", userID)
	}
	if activeOnly {
		query = query.Where("IsActive", "==", true)
	}

	docs, err := query.OrderBy("Merchant", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring charges: %w", err)
	}

	out := make([]*model.RecurringCharge, 0, len(docs))
	for _, doc := range docs {
		var rc model.RecurringCharge
		if err := doc.DataTo(&rc); err != nil {
			return nil, fmt.Errorf("failed to parse recurring charge: %w", err)
		}
		out = append(out, &rc)
	}
	return out, nil
}

// Budget operations

func (s *FirestoreStore) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if budget.ID == "" {
		budget.ID = uuid.New().String()
	}
	_, err := s.client.Collection(colBudgets).Doc(budget.ID).Set(ctx, budget)
	return err
}

func (s *FirestoreStore) GetBudget(ctx context.Context, budgetID string) (*model.Budget, error) {
	doc, err := s.client.Collection(colBudgets).Doc(budgetID).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("budget %s: %w", budgetID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var budget model.Budget
	if err := doc.DataTo(&budget); err != nil {
		return nil, fmt.Errorf("failed to parse budget: %w", err)
	}
	return &budget, nil
}

func (s *FirestoreStore) UpdateBudget(ctx context.Context, budget *model.Budget) error {
	ref := s.client.Collection(colBudgets).Doc(budget.ID)
	if _, err := ref.Get(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("budget %s: %w", budget.ID, ErrNotFound)
		}
		return err
	}
	_, err := ref.Set(ctx, budget)
	return err
}

func (s *FirestoreStore) ListBudgets(ctx context.Context, userID string, includeInactive bool) ([]*model.Budget, error) {
	query := s.client.Collection(colBudgets).Where("UserID", "==", userID)
	if !includeInactive {
		query = query.Where("IsActive", "==", true)
	}

	docs, err := query.OrderBy("CreatedAt", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}

	budgets := make([]*model.Budget, 0, len(docs))
	for _, doc := range docs {
		var b model.Budget
		if err := doc.DataTo(&b); err != nil {
			return nil, fmt.Errorf("failed to parse budget: %w", err)
		}
		budgets = append(budgets, &b)
	}
	return budgets, nil
}

func (s *FirestoreStore) FindActiveBudget(ctx context.Context, userID, category string) (*model.Budget, error) {
	docs, err := s.client.Collection(colBudgets).
		Where("UserID", "==", userID).
		Where("Category", "==", category).
		Where("IsActive", "==", true).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("active budget for %q: %w", category, ErrNotFound)
	}

	var b model.Budget
	if err := docs[0].DataTo(&b); err != nil {
		return nil, fmt.Errorf("failed to parse budget: %w", err)
	}
	return &b, nil
}

// Goal operations

func (s *FirestoreStore) CreateGoal(ctx context.Context, goal *model.Goal) error {
	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}
	_, err := s.client.Collection(colGoals).Doc(goal.ID).Set(ctx, goal)
	return err
}

func (s *FirestoreStore) GetGoal(ctx context.Context, goalID string) (*model.Goal, error) {
	doc, err := s.client.Collection(colGoals).Doc(goalID).Get(ctx)
	if isNotFound(err) {
		return nil, fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var goal model.Goal
	if err := doc.DataTo(&goal); err != nil {
		return nil, fmt.Errorf("failed to parse goal: %w", err)
	}
	return &goal, nil
}

func (s *FirestoreStore) UpdateGoal(ctx context.Context, goal *model.Goal) error {
	ref := s.client.Collection(colGoals).Doc(goal.ID)
	if _, err := ref.Get(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("goal %s: %w", goal.ID, ErrNotFound)
		}
		return err
	}
	_, err := ref.Set(ctx, goal)
	return err
}

func (s *FirestoreStore) DeleteGoal(ctx context.Context, goalID string) error {
	ref := s.client.Collection(colGoals).Doc(goalID)
	if _, err := ref.Get(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("goal %s: %w", goalID, ErrNotFound)
		}
		return err
	}
	_, err := ref.Delete(ctx)
	return err
}

func (s *FirestoreStore) ListGoals(ctx context.Context, userID string, activeOnly bool) ([]*model.Goal, error) {
	query := s.client.Collection(colGoals).Where("UserID", "==", userID)
	if activeOnly {
		query = query.Where("IsActive", "==", true)
	}

	docs, err := query.OrderBy("CreatedAt", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}

	goals := make([]*model.Goal, 0, len(docs))
	for _, doc := range docs {
		var g model.Goal
		if err := doc.DataTo(&g); err != nil {
			return nil, fmt.Errorf("failed to parse goal: %w", err)
		}
		goals = append(goals, &g)
	}
	return goals, nil
}

// Alert operations

func (s *FirestoreStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	doc, err := toAlertDoc(alert)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(colAlerts).Doc(alert.ID).Set(ctx, doc)
	return err
}

func (s *FirestoreStore) ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*model.Alert, error) {
	query := s.client.Collection(colAlerts).Where("UserID", "==", userID)
	if unreadOnly {
		query = query.Where("IsRead", "==", false)
	}
	query = query.OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]*model.Alert, 0, len(docs))
	for _, doc := range docs {
		var d alertDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, fmt.Errorf("failed to parse alert: %w", err)
		}
		a, err := d.toModel()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (s *FirestoreStore) MarkAlertsRead(ctx context.Context, userID string, alertIDs []string) (int, error) {
	refs := make([]*firestore.DocumentRef, 0, len(alertIDs))
	for _, id := range alertIDs {
		refs = append(refs, s.client.Collection(colAlerts).Doc(id))
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return 0, fmt.Errorf("failed to load alerts: %w", err)
	}

	var toMark []*firestore.DocumentRef
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		var d alertDoc
		if err := snap.DataTo(&d); err != nil {
			return 0, fmt.Errorf("failed to parse alert: %w", err)
		}
		if d.UserID != userID || d.IsRead {
			continue
		}
		toMark = append(toMark, snap.Ref)
	}

	now := time.Now().UTC()
	err = s.commitInBatches(ctx, toMark, func(b *firestore.WriteBatch, ref *firestore.DocumentRef) {
		b.Update(ref, []firestore.Update{
			{Path: "IsRead", Value: true},
			{Path: "ReadAt", Value: now},
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	return len(toMark), nil
}

func (s *FirestoreStore) HasUnreadAlert(ctx context.Context, userID string, alertType model.AlertType, dedupKey string) (bool, error) {
	docs, err := s.client.Collection(colAlerts).
		Where("UserID", "==", userID).
		Where("Type", "==", string(alertType)).
		Where("DedupKey", "==", dedupKey).
		Where("IsRead", "==", false).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return false, fmt.Errorf("failed to check for existing alert: %w", err)
	}
	return len(docs) > 0, nil
}

func (s *FirestoreStore) UnreadAlertCount(ctx context.Context, userID string) (int, error) {
	docs, err := s.client.Collection(colAlerts).
		Where("UserID", "==", userID).
		Where("IsRead", "==", false).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to count unread alerts: %w", err)
	}
	return len(docs), nil
}

func (s *FirestoreStore) DeleteUser(ctx context.Context, userID string) error {
	deleteMatching := func(collection string) error {
		docs, err := s.client.Collection(collection).Where("UserID", "==", userID).Documents(ctx).GetAll()
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", collection, err)
		}
		refs := make([]*firestore.DocumentRef, 0, len(docs))
		for _, doc := range docs {
			refs = append(refs, doc.Ref)
		}
		err = s.commitInBatches(ctx, refs, func(b *firestore.WriteBatch, ref *firestore.DocumentRef) {
			b.Delete(ref)
		})
		if err != nil {
			return fmt.Errorf("failed to batch delete %s: %w", collection, err)
		}
		return nil
	}

	for _, col := range []string{colTransactions, colRecurring, colBudgets, colGoals, colAlerts} {
		if err := deleteMatching(col); err != nil {
			return err
		}
	}
	return nil
}
