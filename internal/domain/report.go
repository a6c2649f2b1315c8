package domain

import "time"

// Severity ranks findings and audit records.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Penalty is the score deduction for one finding of this severity.
func (s Severity) Penalty() int {
	switch s {
	case SeverityCritical:
		return 20
	case SeverityHigh:
		return 10
	case SeverityMedium:
		return 5
	default:
		return 0
	}
}

// Rank orders severities, info lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Finding categories, one per sub-audit.
const (
	CategoryEncryption     = "encryption"
	CategoryAuthentication = "authentication"
	CategoryCompliance     = "compliance"
	CategoryMonitoring     = "monitoring"
)

// AuditFinding is one observation of a posture audit.
type AuditFinding struct {
	Code           string   `json:"code"`
	Category       string   `json:"category"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// SecurityAuditReport is the result of one posture audit.
type SecurityAuditReport struct {
	AuditID         string           `json:"audit_id"`
	Timestamp       time.Time        `json:"timestamp"`
	Findings        []AuditFinding   `json:"findings"`
	Score           int              `json:"score"`
	Recommendations []string         `json:"recommendations"`
	Summary         map[Severity]int `json:"summary"`
	Duration        time.Duration    `json:"duration_ns"`
}
