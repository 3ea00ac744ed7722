package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status of an advisory result.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReady    Status = "ready"
	StatusFallback Status = "fallback"
)

// NotAvailable is shown for any optional field the upstream left out.
const NotAvailable = "not available"

// AdvisoryResult is the state of one advisory operation. Seq identifies the
// request the payload answers; Failure names the classification that caused
// a fallback and is empty otherwise.
type AdvisoryResult[T any] struct {
	Status      Status    `json:"status"`
	Payload     T         `json:"payload"`
	RetrievedAt time.Time `json:"retrieved_at"`
	Seq         uint64    `json:"seq"`
	Failure     string    `json:"failure,omitempty"`
}

// Degraded reports whether the payload came from the fallback catalog.
func (r AdvisoryResult[T]) Degraded() bool {
	return r.Status == StatusFallback
}

type (
	HealthScore struct {
		Score           float64  `json:"score"`
		HealthStatus    string   `json:"health_status"`
		Issues          []string `json:"issues"`
		Recommendations []string `json:"recommendations"`
	}

	BudgetAdjustments struct {
		Increase []string `json:"increase"`
		Decrease []string `json:"decrease"`
	}

	Optimization struct {
		SpendingOptimization []string           `json:"spending_optimization"`
		SavingsOpportunities []string           `json:"savings_opportunities"`
		PriorityActions      []string           `json:"priority_actions"`
		BudgetAdjustments    *BudgetAdjustments `json:"budget_adjustments,omitempty"`
		FinancialHealthTips  []string           `json:"financial_health_tips,omitempty"`
		RiskFactors          []string           `json:"risk_factors,omitempty"`
		PositiveHighlights   []string           `json:"positive_highlights,omitempty"`
	}

	Motivation struct {
		Quote              string   `json:"quote"`
		Tip                string   `json:"tip"`
		AchievementMessage *string  `json:"achievement_message,omitempty"`
		ProgressInsights   []string `json:"progress_insights,omitempty"`
	}

	Advice struct {
		Answer               string                `json:"answer"`
		Recommendations      []string              `json:"recommendations,omitempty"`
		Considerations       []string              `json:"considerations,omitempty"`
		NextSteps            []string              `json:"next_steps,omitempty"`
		StockRecommendations []StockRecommendation `json:"stock_recommendations,omitempty"`
	}

	// StockRecommendation is passed through as received. Fields that are
	// missing or of the wrong type stay nil.
	StockRecommendation struct {
		Symbol         *string  `json:"symbol"`
		Name           *string  `json:"name"`
		CurrentPrice   *float64 `json:"current_price"`
		Recommendation *string  `json:"recommendation"`
		PriceChange52w *float64 `json:"price_change_52w"`
		Reasons        []string `json:"reasons"`
	}

	// StockDisplay is a StockRecommendation rendered to text.
	StockDisplay struct {
		Symbol         string `json:"symbol"`
		Name           string `json:"name"`
		CurrentPrice   string `json:"current_price"`
		Recommendation string `json:"recommendation"`
		PriceChange52w string `json:"price_change_52w"`
		Reasons        string `json:"reasons"`
	}
)

var errMissingField = errors.New("missing required field")

// Validate checks the structural minimum of a health score payload.
func (h HealthScore) Validate() error {
	if strings.TrimSpace(h.HealthStatus) == "" {
		return fmt.Errorf("health_status: %w", errMissingField)
	}
	return nil
}

// Validate checks the structural minimum of a motivation payload.
func (m Motivation) Validate() error {
	if strings.TrimSpace(m.Quote) == "" {
		return fmt.Errorf("quote: %w", errMissingField)
	}
	return nil
}

// Validate checks the structural minimum of an optimization payload.
func (o Optimization) Validate() error {
	if o.SpendingOptimization == nil && o.SavingsOpportunities == nil && o.PriorityActions == nil {
		return fmt.Errorf("optimization lists: %w", errMissingField)
	}
	return nil
}

// UnmarshalJSON requires a string answer. Every other field is optional and a
// malformed optional field is dropped instead of failing the whole answer.
func (a *Advice) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var answer string
	if err := json.Unmarshal(raw["answer"], &answer); err != nil || strings.TrimSpace(answer) == "" {
		return fmt.Errorf("answer: %w", errMissingField)
	}

	*a = Advice{
		Answer:          answer,
		Recommendations: looseStrings(raw["recommendations"]),
		Considerations:  looseStrings(raw["considerations"]),
		NextSteps:       looseStrings(raw["next_steps"]),
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw["stock_recommendations"], &items); err == nil {
		for _, item := range items {
			var rec StockRecommendation
			if err := json.Unmarshal(item, &rec); err != nil {
				continue
			}
			a.StockRecommendations = append(a.StockRecommendations, rec)
		}
	}
	return nil
}

// UnmarshalJSON accepts any JSON object; non-object input is an error so the
// caller can skip the entry.
func (s *StockRecommendation) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = StockRecommendation{
		Symbol:         looseString(raw["symbol"]),
		Name:           looseString(raw["name"]),
		CurrentPrice:   looseFloat(raw["current_price"]),
		Recommendation: looseString(raw["recommendation"]),
		PriceChange52w: looseFloat(raw["price_change_52w"]),
		Reasons:        looseStrings(raw["reasons"]),
	}
	return nil
}

// Display renders every field, substituting NotAvailable for missing ones.
func (s StockRecommendation) Display() StockDisplay {
	d := StockDisplay{
		Symbol:         textOr(s.Symbol),
		Name:           textOr(s.Name),
		Recommendation: textOr(s.Recommendation),
		CurrentPrice:   NotAvailable,
		PriceChange52w: NotAvailable,
		Reasons:        NotAvailable,
	}
	if s.CurrentPrice != nil {
		d.CurrentPrice = fmt.Sprintf("$%.2f", *s.CurrentPrice)
	}
	if s.PriceChange52w != nil {
		d.PriceChange52w = fmt.Sprintf("%+.2f%%", *s.PriceChange52w)
	}
	if len(s.Reasons) > 0 {
		d.Reasons = strings.Join(s.Reasons, "; ")
	}
	return d
}

func textOr(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return NotAvailable
	}
	return *s
}

func looseString(raw json.RawMessage) *string {
	if raw == nil {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func looseFloat(raw json.RawMessage) *float64 {
	if raw == nil {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	// Numeric strings are accepted the same way Amount accepts them.
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	d, err := ParseAmount(s)
	if err != nil {
		return nil
	}
	f = d.InexactFloat64()
	return &f
}

func looseStrings(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
