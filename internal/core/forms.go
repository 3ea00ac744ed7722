package core

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field keys used in FieldErrorSet for local validation.
const (
	FieldCategory     = "category"
	FieldAmount       = "amount"
	FieldPeriod       = "period"
	FieldStartDate    = "startDate"
	FieldEndDate      = "endDate"
	FieldName         = "name"
	FieldTargetAmount = "targetAmount"
	FieldTargetDate   = "targetDate"
	FieldGoalType     = "goalType"
)

// Validation messages.
const (
	MsgRequired       = "This field is required"
	MsgInvalidNumber  = "must be a valid number"
	MsgMustBePositive = "must be greater than 0"
	MsgInvalidDate    = "must be a valid date (YYYY-MM-DD)"
	MsgEndAfterStart  = "End date must be after start date"
	MsgFutureDate     = "Target date must be in the future"
)

const (
	dateLayout  = "2006-01-02"
	naiveLayout = "2006-01-02T15:04:05"
)

// FieldErrorSet maps a field name to a human-readable message.
type FieldErrorSet map[string]string

// Add records msg for field unless the field already has a message.
func (s FieldErrorSet) Add(field, msg string) {
	if _, exists := s[field]; !exists {
		s[field] = msg
	}
}

// Empty reports whether no field has an error.
func (s FieldErrorSet) Empty() bool {
	return len(s) == 0
}

// Fields returns the field names in sorted order.
func (s FieldErrorSet) Fields() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BudgetForm is the raw user input for a new budget.
type BudgetForm struct {
	Category  string `json:"category"`
	Amount    string `json:"amount"`
	Period    string `json:"period"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// GoalForm is the raw user input for a new goal.
type GoalForm struct {
	Name         string `json:"name"`
	TargetAmount string `json:"targetAmount"`
	TargetDate   string `json:"targetDate"`
	GoalType     string `json:"goalType"`
}

// DefaultBudgetForm is the state a budget form returns to after success.
func DefaultBudgetForm() BudgetForm {
	return BudgetForm{Period: "monthly"}
}

// DefaultGoalForm is the state a goal form returns to after success.
func DefaultGoalForm() GoalForm {
	return GoalForm{GoalType: "savings"}
}

// Validate runs the local checks for a budget.
func (f BudgetForm) Validate(_ time.Time) FieldErrorSet {
	errs := FieldErrorSet{}

	if strings.TrimSpace(f.Category) == "" {
		errs.Add(FieldCategory, MsgRequired)
	}
	validatePositive(errs, FieldAmount, f.Amount)

	// The backend accepts any period label; only presence is checked here.
	if strings.TrimSpace(f.Period) == "" {
		errs.Add(FieldPeriod, MsgRequired)
	}

	start, startOK := validateDate(errs, FieldStartDate, f.StartDate)
	end, endOK := validateDate(errs, FieldEndDate, f.EndDate)
	if startOK && endOK && !end.start.After(start.start) {
		errs.Add(FieldEndDate, MsgEndAfterStart)
	}

	return errs
}

// Validate runs the local checks for a goal. The target date must be strictly
// after now; a bare date counts from the start of that day.
func (f GoalForm) Validate(now time.Time) FieldErrorSet {
	errs := FieldErrorSet{}

	if strings.TrimSpace(f.Name) == "" {
		errs.Add(FieldName, MsgRequired)
	}
	validatePositive(errs, FieldTargetAmount, f.TargetAmount)

	if target, ok := validateDate(errs, FieldTargetDate, f.TargetDate); ok {
		if !target.start.After(now) {
			errs.Add(FieldTargetDate, MsgFutureDate)
		}
	}

	if strings.TrimSpace(f.GoalType) == "" {
		errs.Add(FieldGoalType, MsgRequired)
	}

	return errs
}

// Payload returns the normalized request body. It must only be called on a
// form that passed Validate.
func (f BudgetForm) Payload() map[string]any {
	amount, _ := ParseAmount(f.Amount)
	start, _ := parseFormDate(f.StartDate)
	end, _ := parseFormDate(f.EndDate)
	return map[string]any{
		"category":   strings.TrimSpace(f.Category),
		"amount":     jsonNumber(amount),
		"period":     strings.ToLower(strings.TrimSpace(f.Period)),
		"start_date": start.startBoundary(),
		"end_date":   end.endBoundary(),
	}
}

// Payload returns the normalized request body. It must only be called on a
// form that passed Validate.
func (f GoalForm) Payload() map[string]any {
	amount, _ := ParseAmount(f.TargetAmount)
	target, _ := parseFormDate(f.TargetDate)
	return map[string]any{
		"name":          strings.TrimSpace(f.Name),
		"target_amount": jsonNumber(amount),
		"target_date":   target.endBoundary(),
		"goal_type":     strings.TrimSpace(f.GoalType),
	}
}

func jsonNumber(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func validatePositive(errs FieldErrorSet, field, raw string) {
	d, err := ParseAmount(raw)
	switch {
	case err == ErrEmptyAmount:
		errs.Add(field, MsgRequired)
	case err != nil:
		errs.Add(field, MsgInvalidNumber)
	case !d.IsPositive():
		errs.Add(field, MsgMustBePositive)
	}
}

func validateDate(errs FieldErrorSet, field, raw string) (formDate, bool) {
	if strings.TrimSpace(raw) == "" {
		errs.Add(field, MsgRequired)
		return formDate{}, false
	}
	d, ok := parseFormDate(raw)
	if !ok {
		errs.Add(field, MsgInvalidDate)
		return formDate{}, false
	}
	return d, true
}

// formDate is either a bare calendar day or an exact instant.
type formDate struct {
	start   time.Time
	dayOnly bool
}

func parseFormDate(raw string) (formDate, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(dateLayout, raw, time.Local); err == nil {
		return formDate{start: t, dayOnly: true}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return formDate{start: t}, true
	}
	return formDate{}, false
}

func (d formDate) startBoundary() string {
	if d.dayOnly {
		return d.start.Format(naiveLayout)
	}
	return d.start.Format(time.RFC3339)
}

func (d formDate) endBoundary() string {
	if d.dayOnly {
		y, m, day := d.start.Date()
		return time.Date(y, m, day, 23, 59, 59, 0, d.start.Location()).Format(naiveLayout)
	}
	return d.start.Format(time.RFC3339)
}
