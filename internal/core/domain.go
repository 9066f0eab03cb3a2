package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"
)

const (
	Income  Type = "income"
	Expense Type = "expense"
)

type (
	// Type is the direction of a ledger entry.
	Type string

	// Transaction is one ledger entry owned by a single user.
	Transaction struct {
		ID        string     `json:"id"`
		Owner     string     `json:"owner"`
		Type      Type       `json:"type"`
		Amount    float64    `json:"amount"`
		Category  string     `json:"category"`
		Date      civil.Date `json:"date"`
		Note      string     `json:"note"`
		CreatedAt time.Time  `json:"createdAt"`
		UpdatedAt time.Time  `json:"updatedAt"`
	}

	// Draft is the caller supplied shape of a new transaction.
	Draft struct {
		Type     string  `json:"type" validate:"required,oneof=income expense"`
		Amount   float64 `json:"amount" validate:"required,gt=0"`
		Category string  `json:"category" validate:"required,max=100"`
		Date     string  `json:"date" validate:"required"`
		Note     string  `json:"note" validate:"max=500"`
	}

	// Patch carries the fields an edit may change. Nil fields are left untouched.
	Patch struct {
		Type     *string  `json:"type"`
		Amount   *float64 `json:"amount"`
		Category *string  `json:"category"`
		Note     *string  `json:"note"`
	}
)

var (
	ErrInvalidType     = errors.New("invalid transaction type")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyCategory   = errors.New("empty category")
	ErrInvalidDate     = errors.New("invalid date")
	ErrMissingOwner    = errors.New("missing owner")
	ErrCategoryTooLong = errors.New("category too long (max 100 characters)")
	ErrNoteTooLong     = errors.New("note too long (max 500 characters)")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseType lower-cases and trims s and checks it names a known type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

func (t Type) Valid() bool {
	return t == Income || t == Expense
}

func (tx Transaction) Validate() error {
	if strings.TrimSpace(tx.Owner) == "" {
		return ErrMissingOwner
	}
	if !tx.Type.Valid() {
		return ErrInvalidType
	}
	if tx.Amount <= 0 || math.IsInf(tx.Amount, 0) || math.IsNaN(tx.Amount) {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(tx.Category) == "" {
		return ErrEmptyCategory
	}
	if len(tx.Category) > 100 {
		return ErrCategoryTooLong
	}
	if !tx.Date.IsValid() {
		return ErrInvalidDate
	}
	if len(tx.Note) > 500 {
		return ErrNoteTooLong
	}
	return nil
}

// Transaction validates the draft and builds the entry for owner.
// ID and timestamps are left for the store to assign.
func (d Draft) Transaction(owner string) (Transaction, error) {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	d.Category = strings.TrimSpace(d.Category)
	d.Note = strings.TrimSpace(d.Note)
	d.Date = strings.TrimSpace(d.Date)

	if err := validate.Struct(d); err != nil {
		return Transaction{}, NewValidation(describeValidation(err), err)
	}
	date, err := civil.ParseDate(d.Date)
	if err != nil {
		return Transaction{}, NewValidation(fmt.Sprintf("invalid date %q: want YYYY-MM-DD", d.Date), ErrInvalidDate)
	}

	tx := Transaction{
		Owner:    owner,
		Type:     Type(d.Type),
		Amount:   d.Amount,
		Category: d.Category,
		Date:     date,
		Note:     d.Note,
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, NewValidation(err.Error(), err)
	}
	return tx, nil
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Type == nil && p.Amount == nil && p.Category == nil && p.Note == nil
}

// Apply copies the set fields onto tx. Blank type, category and a zero
// amount are treated as absent; note may be cleared.
func (p Patch) Apply(tx *Transaction) error {
	if p.Type != nil && strings.TrimSpace(*p.Type) != "" {
		t, err := ParseType(*p.Type)
		if err != nil {
			return NewValidation("Invalid transaction type.", err)
		}
		tx.Type = t
	}
	if p.Amount != nil && *p.Amount != 0 {
		if *p.Amount < 0 || math.IsInf(*p.Amount, 0) || math.IsNaN(*p.Amount) {
			return NewValidation("amount must be a positive number", ErrInvalidAmount)
		}
		tx.Amount = *p.Amount
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) != "" {
		category := strings.TrimSpace(*p.Category)
		if len(category) > 100 {
			return NewValidation(ErrCategoryTooLong.Error(), ErrCategoryTooLong)
		}
		tx.Category = category
	}
	if p.Note != nil {
		note := strings.TrimSpace(*p.Note)
		if len(note) > 500 {
			return NewValidation(ErrNoteTooLong.Error(), ErrNoteTooLong)
		}
		tx.Note = note
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		case "gt":
			msgs = append(msgs, field+" must be greater than "+fe.Param())
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param()+" characters")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

// MonthStart returns the first day of the month containing d.
func MonthStart(d civil.Date) civil.Date {
	return civil.Date{Year: d.Year, Month: d.Month, Day: 1}
}

// AddMonths shifts a first-of-month date by n calendar months.
func AddMonths(d civil.Date, n int) civil.Date {
	t := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return civil.DateOf(t)
}
