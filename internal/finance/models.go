package finance

import "time"

// Category groups expenses or incomes for one user.
type Category struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	UserID        string        `gorm:"size:64;index;not null" json:"user_id"`
	Name          string        `gorm:"size:128;not null" json:"name"`
	Type          string        `gorm:"size:16" json:"type"` // expense | income
	Subcategories []Subcategory `gorm:"foreignKey:CategoryID" json:"subcategories,omitempty"`
}

type Subcategory struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	CategoryID uint   `gorm:"index;not null" json:"category_id"`
	Name       string `gorm:"size:128;not null" json:"name"`
}

type Expense struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	UserID        string       `gorm:"size:64;index;not null" json:"user_id"`
	Amount        float64      `gorm:"not null" json:"amount"`
	Description   string       `gorm:"size:255" json:"description"`
	Date          time.Time    `gorm:"index;not null" json:"date"`
	PaymentMethod string       `gorm:"size:64" json:"payment_method,omitempty"`
	CategoryID    *uint        `json:"category_id,omitempty"`
	Category      *Category    `json:"category,omitempty"`
	SubcategoryID *uint        `json:"subcategory_id,omitempty"`
	Subcategory   *Subcategory `json:"subcategory,omitempty"`
}

// CategoryName returns the category name or "Uncategorized".
func (e Expense) CategoryName() string {
	if e.Category != nil && e.Category.Name != "" {
		return e.Category.Name
	}
	return Uncategorized
}

func (e Expense) SubcategoryName() string {
	if e.Subcategory != nil {
		return e.Subcategory.Name
	}
	return ""
}

type Income struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:64;index;not null" json:"user_id"`
	Amount      float64   `gorm:"not null" json:"amount"`
	Description string    `gorm:"size:255" json:"description"`
	Source      string    `gorm:"size:128" json:"source,omitempty"`
	Date        time.Time `gorm:"index;not null" json:"date"`
	CategoryID  *uint     `json:"category_id,omitempty"`
	Category    *Category `json:"category,omitempty"`
}

func (i Income) CategoryName() string {
	if i.Category != nil && i.Category.Name != "" {
		return i.Category.Name
	}
	return Uncategorized
}

// Saving is a goal the user is accumulating money toward.
type Saving struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        string     `gorm:"size:64;index;not null" json:"user_id"`
	Name          string     `gorm:"size:128;not null" json:"name"`
	TargetAmount  float64    `json:"target_amount"`
	CurrentAmount float64    `json:"current_amount"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Budget caps spending in one category over a date window.
type Budget struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"size:64;index;not null" json:"user_id"`
	Name       string    `gorm:"size:128" json:"name"`
	Amount     float64   `gorm:"not null" json:"amount"`
	StartDate  time.Time `gorm:"index" json:"start_date"`
	EndDate    time.Time `gorm:"index" json:"end_date"`
	CategoryID *uint     `json:"category_id,omitempty"`
	Category   *Category `json:"category,omitempty"`
}

func (b Budget) CategoryName() string {
	if b.Category != nil && b.Category.Name != "" {
		return b.Category.Name
	}
	return Uncategorized
}

// Loan is money borrowed by or lent by the user.
type Loan struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             string     `gorm:"size:64;index;not null" json:"user_id"`
	Counterparty       string     `gorm:"size:128" json:"counterparty"`
	Type               string     `gorm:"size:16" json:"type"` // borrowed | lent
	Principal          float64    `json:"principal"`
	OutstandingBalance float64    `json:"outstanding_balance"`
	InterestRate       float64    `json:"interest_rate"`
	Status             string     `gorm:"size:16;index" json:"status"` // active | paid | overdue
	StartDate          time.Time  `json:"start_date"`
	DueDate            *time.Time `json:"due_date,omitempty"`
}

const Uncategorized = "Uncategorized"
