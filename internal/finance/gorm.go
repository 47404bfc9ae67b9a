package finance

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/walletwise/walletwise/backend/internal/database"
)

// GormSource reads financial records from the shared relational database.
type GormSource struct {
	db *database.DB
}

func NewGormSource(db *database.DB) *GormSource {
	return &GormSource{db: db}
}

// Migrate creates the financial tables. Only used in development; in
// production the CRUD services own this schema.
func (s *GormSource) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&Category{}, &Subcategory{}, &Expense{}, &Income{}, &Saving{}, &Budget{}, &Loan{},
	)
}

func dateRange(q *gorm.DB, column string, f Filter) *gorm.DB {
	if f.From != nil {
		q = q.Where(column+" >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where(column+" <= ?", *f.To)
	}
	return q
}

func (s *GormSource) Expenses(ctx context.Context, userID string, f Filter) ([]Expense, error) {
	var out []Expense
	q := s.db.WithContext(ctx).Preload("Category").Preload("Subcategory").
		Where("user_id = ?", userID).Order("date DESC, id DESC")
	if err := dateRange(q, "date", f).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find expenses: %w", err)
	}
	return out, nil
}

func (s *GormSource) Incomes(ctx context.Context, userID string, f Filter) ([]Income, error) {
	var out []Income
	q := s.db.WithContext(ctx).Preload("Category").
		Where("user_id = ?", userID).Order("date DESC, id DESC")
	if err := dateRange(q, "date", f).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find incomes: %w", err)
	}
	return out, nil
}

func (s *GormSource) Savings(ctx context.Context, userID string) ([]Saving, error) {
	var out []Saving
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find savings: %w", err)
	}
	return out, nil
}

func (s *GormSource) Budgets(ctx context.Context, userID string, f Filter) ([]Budget, error) {
	var out []Budget
	q := s.db.WithContext(ctx).Preload("Category").Where("user_id = ?", userID)
	if f.From != nil {
		q = q.Where("end_date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("start_date <= ?", *f.To)
	}
	if err := q.Order("start_date ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find budgets: %w", err)
	}
	return out, nil
}

func (s *GormSource) Loans(ctx context.Context, userID string) ([]Loan, error) {
	var out []Loan
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_date DESC, id DESC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find loans: %w", err)
	}
	return out, nil
}

func (s *GormSource) Categories(ctx context.Context, userID string) ([]Category, error) {
	var out []Category
	err := s.db.WithContext(ctx).Preload("Subcategories").
		Where("user_id = ?", userID).Order("name ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find categories: %w", err)
	}
	return out, nil
}
