// Package policy decides whether a failed upstream gateway call is attempted
// again. Rules are govaluate expressions over the attempt's parameters:
//
//	gateway           string  gateway name, e.g. 'CardConnect'
//	operation         string  upstream operation, e.g. 'inquire'
//	method            string  HTTP method
//	status_code       float   HTTP status, 0 when no response arrived
//	attempt           float   attempts made so far, starting at 1
//	connection_error  bool    true when no response arrived
//
// Rules are evaluated by ascending Priority; the first matching rule decides.
// When no rule matches, the call is not retried.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/Knetic/govaluate"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/adapter"
)

const (
	// DefaultMaxAttempts keeps every upstream call to a single attempt.
	DefaultMaxAttempts = 1
	DefaultBackoff     = 500 * time.Millisecond
)

// PolicyDecision is the outcome of a matching rule.
type PolicyDecision struct {
	AllowRetry bool `yaml:"allow_retry" json:"allow_retry"`
}

// PolicyRule is one retry rule.
type PolicyRule struct {
	ID         string         `yaml:"id" json:"id"`
	Expression string         `yaml:"expression" json:"expression"`
	Priority   int            `yaml:"priority" json:"priority"`
	Decision   PolicyDecision `yaml:",inline" json:"decision"`
}

type compiledRule struct {
	PolicyRule
	expr *govaluate.EvaluableExpression
}

// DefaultRules retries only reads that failed at the connection level or with
// a 5xx. Writes (payments, voids, refunds) are never retried by default since
// vendors do not guarantee duplicate protection.
func DefaultRules() []PolicyRule {
	return []PolicyRule{
		{
			ID:         "retry_idempotent_reads",
			Expression: "method == 'GET' && (connection_error || status_code >= 500)",
			Priority:   1,
			Decision:   PolicyDecision{AllowRetry: true},
		},
	}
}

// RetryPolicy implements adapter.RetryDecider.
type RetryPolicy struct {
	rules       []compiledRule
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// Option configures a RetryPolicy.
type Option func(*RetryPolicy)

// WithMaxAttempts caps the total attempts per upstream call, including the first.
func WithMaxAttempts(n int) Option {
	return func(p *RetryPolicy) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff sets the base wait between attempts. The wait grows linearly.
func WithBackoff(d time.Duration) Option {
	return func(p *RetryPolicy) {
		if d >= 0 {
			p.backoff = d
		}
	}
}

// WithLogger sets the logger used to report rule evaluation failures.
func WithLogger(logger *zap.Logger) Option {
	return func(p *RetryPolicy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewRetryPolicy compiles the rules. A rule with an empty or invalid
// expression is a configuration error.
func NewRetryPolicy(rules []PolicyRule, opts ...Option) (*RetryPolicy, error) {
	p := &RetryPolicy{
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, rule := range rules {
		if rule.Expression == "" {
			return nil, fmt.Errorf("policy rule ID '%s' has an empty expression", rule.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", rule.ID, err)
		}
		p.rules = append(p.rules, compiledRule{PolicyRule: rule, expr: expr})
	}

	sort.SliceStable(p.rules, func(i, j int) bool {
		return p.rules[i].Priority < p.rules[j].Priority
	})
	return p, nil
}

// MaxAttempts returns the attempt cap.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Evaluate returns the decision of the first matching rule and its ID. With no
// match it returns the zero decision and an empty ID.
func (p *RetryPolicy) Evaluate(params map[string]interface{}) (PolicyDecision, string, error) {
	for _, rule := range p.rules {
		out, err := rule.expr.Evaluate(params)
		if err != nil {
			return PolicyDecision{}, rule.ID, fmt.Errorf("evaluating rule ID '%s': %w", rule.ID, err)
		}
		matched, ok := out.(bool)
		if !ok {
			return PolicyDecision{}, rule.ID, fmt.Errorf("rule ID '%s' did not evaluate to a boolean (got %T)", rule.ID, out)
		}
		if matched {
			return rule.Decision, rule.ID, nil
		}
	}
	return PolicyDecision{}, "", nil
}

// ShouldRetry implements adapter.RetryDecider.
func (p *RetryPolicy) ShouldRetry(a adapter.RetryAttempt) (bool, time.Duration) {
	if a.Attempt >= p.maxAttempts {
		return false, 0
	}

	decision, ruleID, err := p.Evaluate(Parameters(a))
	if err != nil {
		p.logger.Error("Retry rule evaluation failed",
			zap.String("gateway", a.Gateway),
			zap.String("operation", a.Operation),
			zap.String("rule_id", ruleID),
			zap.Error(err),
		)
		return false, 0
	}
	if !decision.AllowRetry {
		return false, 0
	}
	return true, p.backoff * time.Duration(a.Attempt)
}

// Parameters builds the expression parameters for an attempt.
func Parameters(a adapter.RetryAttempt) map[string]interface{} {
	return map[string]interface{}{
		"gateway":          a.Gateway,
		"operation":        a.Operation,
		"method":           a.Method,
		"status_code":      float64(a.StatusCode),
		"attempt":          float64(a.Attempt),
		"connection_error": a.Err != nil,
	}
}
