package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAmount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"number", `1234.56`, "1234.56"},
		{"integer", `42`, "42"},
		{"numeric string", `"99.10"`, "99.1"},
		{"padded string", `"  7 "`, "7"},
		{"unparsable string", `"lots"`, "0"},
		{"null", `null`, "0"},
		{"empty string", `""`, "0"},
		{"bool", `true`, "0"},
		{"object", `{"v":1}`, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Amount
			if err := json.Unmarshal([]byte(tt.input), &a); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if !a.Equal(MustAmount(tt.want)) {
				t.Errorf("Unmarshal(%s) = %s, want %s", tt.input, a.String(), tt.want)
			}
		})
	}
}

func TestAmount_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		V Amount `json:"v"`
	}{MustAmount("10.50")})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(out) != `{"v":10.5}` {
		t.Errorf("Marshal = %s, want {\"v\":10.5}", out)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{"12.50", "12.5", nil},
		{"12,50", "12.5", nil},
		{" 3 ", "3", nil},
		{"-5", "-5", nil},
		{"", "0", ErrEmptyAmount},
		{"   ", "0", ErrEmptyAmount},
		{"abc", "0", ErrInvalidAmount},
		{"1,000.50", "0", ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if err != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr == nil && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got.String(), tt.want)
			}
		})
	}
}

func TestEntityID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input string
		want  EntityID
	}{
		{`17`, "17"},
		{`"abc-1"`, "abc-1"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var id EntityID
		if err := json.Unmarshal([]byte(tt.input), &id); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
		}
		if id != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, id, tt.want)
		}
	}
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", `"2025-03-01T10:00:00Z"`, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"naive fractional", `"2025-03-01T10:00:00.123456"`, time.Date(2025, 3, 1, 10, 0, 0, 123456000, time.UTC)},
		{"space separated", `"2025-03-01 10:00:00"`, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"date only", `"2025-03-01"`, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"garbage", `"yesterday"`, time.Time{}},
		{"number", `12`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.input), &ts); err != nil {
				t.Fatalf("Unmarshal error = %v", err)
			}
			if !ts.Equal(tt.want) {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, ts.Time, tt.want)
			}
		})
	}
}

func TestDashboardSnapshot_Decode(t *testing.T) {
	body := `{
		"total_balance": "1500.25",
		"total_income": 3000,
		"total_expenses": "not-a-number",
		"budgets": [{"id": 1, "category": "Food", "amount": "400", "current_spent": 120.5, "percentage": 30.1}]
	}`

	var snap DashboardSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if !snap.TotalBalance.Equal(MustAmount("1500.25")) {
		t.Errorf("TotalBalance = %s", snap.TotalBalance.String())
	}
	if !snap.TotalExpenses.IsZero() {
		t.Errorf("TotalExpenses = %s, want 0", snap.TotalExpenses.String())
	}
	if len(snap.Budgets) != 1 || snap.Budgets[0].ID != "1" || !snap.Budgets[0].Amount.Equal(AmountFromInt(400)) {
		t.Errorf("Budgets = %+v", snap.Budgets)
	}
}

func TestEmptySnapshot(t *testing.T) {
	out, err := json.Marshal(EmptySnapshot())
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	want := `{"total_balance":0,"total_income":0,"total_expenses":0,"net_income":0,"unread_alerts":0,"budgets":[],"goals":[],"recent_transactions":[]}`
	if string(out) != want {
		t.Errorf("EmptySnapshot JSON = %s, want %s", out, want)
	}
}
