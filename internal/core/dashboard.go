package core

type (
	// BudgetView is one budget line on the dashboard.
	BudgetView struct {
		ID           EntityID `json:"id"`
		Category     string   `json:"category"`
		Amount       Amount   `json:"amount"`
		CurrentSpent Amount   `json:"current_spent"`
		Percentage   Amount   `json:"percentage"`
	}

	// GoalView is one savings goal on the dashboard.
	GoalView struct {
		ID            EntityID  `json:"id"`
		Name          string    `json:"name"`
		TargetAmount  Amount    `json:"target_amount"`
		CurrentAmount Amount    `json:"current_amount"`
		Percentage    Amount    `json:"percentage"`
		TargetDate    Timestamp `json:"target_date"`
	}

	// TransactionView is one recent transaction on the dashboard.
	TransactionView struct {
		ID       EntityID  `json:"id"`
		Name     string    `json:"name"`
		Amount   Amount    `json:"amount"`
		Category string    `json:"category"`
		Date     Timestamp `json:"date"`
	}

	// DashboardSnapshot is replaced wholesale on every aggregation.
	DashboardSnapshot struct {
		TotalBalance       Amount            `json:"total_balance"`
		TotalIncome        Amount            `json:"total_income"`
		TotalExpenses      Amount            `json:"total_expenses"`
		NetIncome          Amount            `json:"net_income"`
		UnreadAlerts       int64             `json:"unread_alerts"`
		Budgets            []BudgetView      `json:"budgets"`
		Goals              []GoalView        `json:"goals"`
		RecentTransactions []TransactionView `json:"recent_transactions"`
	}
)

// EmptySnapshot is the well-formed degraded state: every total zero and every
// sequence empty but non-nil, so it encodes as [] rather than null.
func EmptySnapshot() DashboardSnapshot {
	return DashboardSnapshot{
		Budgets:            []BudgetView{},
		Goals:              []GoalView{},
		RecentTransactions: []TransactionView{},
	}
}
