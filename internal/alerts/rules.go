package alerts

import (
	"context"
	"math"
	"strings"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

// Metrics a rule can watch.
const (
	MetricDailyCost      = "daily_cost"
	MetricDailyTokens    = "daily_tokens"
	MetricDailyEvents    = "daily_events"
	MetricCronFailCount  = "cron_fail_count"
	MetricCronFailStreak = "cron_fail_streak"
)

const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

var knownMetrics = map[string]bool{
	MetricDailyCost:      true,
	MetricDailyTokens:    true,
	MetricDailyEvents:    true,
	MetricCronFailCount:  true,
	MetricCronFailStreak: true,
}

var operatorAliases = map[string]string{
	">":  ">",
	">=": ">=",
	"≥":  ">=",
	"<":  "<",
	"<=": "<=",
	"≤":  "<=",
	"=":  "=",
	"==": "=",
}

// cronMetric reports whether metric is derived from cron events.
func cronMetric(metric string) bool {
	return metric == MetricCronFailCount || metric == MetricCronFailStreak
}

// NormalizeOperator maps accepted spellings to the stored operator.
func NormalizeOperator(op string) (string, error) {
	if canonical, ok := operatorAliases[strings.TrimSpace(op)]; ok {
		return canonical, nil
	}
	return "", core.Validation("operator must be one of >, >=, <, <=, =")
}

// Compare applies a stored operator. Unknown operators never trigger.
func Compare(op string, value, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "=":
		return math.Abs(value-threshold) < 1e-9
	default:
		return false
	}
}

// RuleValidator checks rule input on create and update.
type RuleValidator struct {
	resolver Resolver
}

// NewRuleValidator builds a validator; resolver may be nil to skip DNS checks.
func NewRuleValidator(resolver Resolver) *RuleValidator {
	return &RuleValidator{resolver: resolver}
}

// Validate normalizes rule in place and reports the first problem found.
func (v *RuleValidator) Validate(ctx context.Context, rule *db.AlertRule) error {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" || len(rule.Name) > 128 {
		return core.Validation("name must be between 1 and 128 characters")
	}
	if !knownMetrics[rule.Metric] {
		return core.Validation("unknown metric %q", rule.Metric)
	}

	op, err := NormalizeOperator(rule.Operator)
	if err != nil {
		return err
	}
	rule.Operator = op

	if math.IsNaN(rule.Threshold) || math.IsInf(rule.Threshold, 0) {
		return core.Validation("threshold must be a finite number")
	}

	switch rule.Channel {
	case ChannelWebhook:
		if rule.WebhookURL == nil || strings.TrimSpace(*rule.WebhookURL) == "" {
			return core.Validation("webhook_url is required for the webhook channel")
		}
	case ChannelEmail:
	default:
		return core.Validation("channel must be webhook or email")
	}

	if rule.WebhookURL != nil {
		trimmed := strings.TrimSpace(*rule.WebhookURL)
		if trimmed == "" {
			rule.WebhookURL = nil
			return nil
		}
		if err := ValidateWebhookURL(ctx, trimmed, v.resolver); err != nil {
			return err
		}
		rule.WebhookURL = &trimmed
	}
	return nil
}
