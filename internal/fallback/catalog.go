// Package fallback holds the fixed content shown when an advisory call cannot
// complete. Every accessor returns a fresh copy, so callers may modify what
// they get without affecting later lookups.
package fallback

import (
	"errors"
	"fmt"

	"finadvisor/internal/config"
	"finadvisor/internal/core"
)

var ErrUnknownOperation = errors.New("no fallback for operation")

const adviceAnswer = "Thank you for your question: '%s'. I'm currently experiencing technical difficulties. " +
	"Please try again in a moment, or contact support for immediate assistance."

var (
	healthScore = core.HealthScore{
		Score:        70,
		HealthStatus: "Good",
		Issues:       []string{},
		Recommendations: []string{
			"Continue tracking your expenses",
			"Aim for 20% savings rate",
			"Build 3-6 months emergency fund",
		},
	}

	optimization = core.Optimization{
		SpendingOptimization: []string{
			"Review top spending categories and identify areas to cut back",
			"Consider meal planning to reduce food expenses",
			"Cancel unused subscriptions",
		},
		SavingsOpportunities: []string{
			"Automate savings transfers",
			"Consider high-yield savings accounts",
			"Reduce dining out expenses",
		},
		PriorityActions: []string{
			"Set up automatic savings",
			"Review and cancel unnecessary subscriptions",
			"Track expenses daily",
		},
	}

	motivation = core.Motivation{
		Quote: "The best time to plant a tree was 20 years ago. The second best time is now.",
		Tip:   "Automate your savings by setting up automatic transfers to a savings account each month.",
		ProgressInsights: []string{
			"You're making progress on your financial goals!",
			"Keep tracking your expenses to stay on budget.",
		},
	}

	adviceRecommendations = []string{
		"Review your budget regularly",
		"Track all expenses",
		"Set up automatic savings",
	}

	adviceNextSteps = []string{
		"Try asking your question again",
		"Check your financial dashboard",
		"Review your budget and goals",
	}
)

// HealthScore returns the fallback health score.
func HealthScore() core.HealthScore {
	h := healthScore
	h.Issues = clone(h.Issues)
	h.Recommendations = clone(h.Recommendations)
	return h
}

// Optimization returns the fallback spending optimization.
func Optimization() core.Optimization {
	return core.Optimization{
		SpendingOptimization: clone(optimization.SpendingOptimization),
		SavingsOpportunities: clone(optimization.SavingsOpportunities),
		PriorityActions:      clone(optimization.PriorityActions),
	}
}

// Motivation returns the fallback motivation.
func Motivation() core.Motivation {
	m := motivation
	m.ProgressInsights = clone(m.ProgressInsights)
	return m
}

// Advice returns the apology answer, echoing question.
func Advice(question string) core.Advice {
	return core.Advice{
		Answer:          fmt.Sprintf(adviceAnswer, question),
		Recommendations: clone(adviceRecommendations),
		NextSteps:       clone(adviceNextSteps),
	}
}

// Get looks an entry up by operation name. question is only used by the
// advice entry.
func Get(op, question string) (any, error) {
	switch op {
	case config.OpHealthScore:
		return HealthScore(), nil
	case config.OpOptimization:
		return Optimization(), nil
	case config.OpMotivation:
		return Motivation(), nil
	case config.OpAdvice:
		return Advice(question), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
	}
}

func clone(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
