package auditor

import (
	"fmt"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
)

const (
	maxRotation       = 90 * 24 * time.Hour
	maxSessionTimeout = 30 * time.Minute
	minLockout        = 15 * time.Minute
	maxFailedAttempts = 5
	activityWindow    = time.Hour
)

func finding(code, category string, sev domain.Severity, msg, rec string) domain.AuditFinding {
	return domain.AuditFinding{Code: code, Category: category, Severity: sev, Message: msg, Recommendation: rec}
}

// auditEncryption checks the key registry and its configuration.
func (a *SecurityAuditor) auditEncryption() []domain.AuditFinding {
	var findings []domain.AuditFinding
	cat := domain.CategoryEncryption

	findings = append(findings, finding("ENC_001", cat, domain.SeverityInfo,
		fmt.Sprintf("%s encryption active (key source: %s)", a.keys.Algorithm(), a.keys.KeySourceName()), ""))

	if a.keys.Ephemeral() {
		findings = append(findings, finding("ENC_003", cat, domain.SeverityHigh,
			"Master key is ephemeral: sessions are lost on restart and instances cannot share tokens",
			"Set encryption.master_key to a persistent base64 secret of at least 32 bytes."))
	}

	rotation := a.keys.RotationInterval()
	if rotation > maxRotation {
		findings = append(findings, finding("ENC_004", cat, domain.SeverityMedium,
			fmt.Sprintf("Key rotation interval %s exceeds %s", rotation, maxRotation),
			"Lower encryption.key_rotation to 90 days or less."))
	} else {
		findings = append(findings, finding("ENC_002", cat, domain.SeverityInfo,
			fmt.Sprintf("Key rotation schedule compliant (every %s)", rotation), ""))
	}

	if !a.cfg.Encryption.HSMEnabled {
		findings = append(findings, finding("ENC_005", cat, domain.SeverityLow,
			"Encryption keys are not backed by an HSM",
			"Move the master secret to an HSM or managed KMS."))
	}
	return findings
}

// auditAuthentication checks session and login controls.
func (a *SecurityAuditor) auditAuthentication() []domain.AuditFinding {
	var findings []domain.AuditFinding
	cat := domain.CategoryAuthentication
	auth := a.cfg.Auth

	if auth.MFARequired {
		findings = append(findings, finding("AUTH_001", cat, domain.SeverityInfo, "MFA enforcement active", ""))
	} else {
		findings = append(findings, finding("AUTH_003", cat, domain.SeverityHigh,
			"MFA is not required",
			"Set auth.mfa_required: true."))
	}

	if auth.SessionTimeout <= 0 || auth.SessionTimeout > maxSessionTimeout {
		findings = append(findings, finding("AUTH_004", cat, domain.SeverityMedium,
			fmt.Sprintf("Session timeout %s is outside the recommended (0, %s] range", auth.SessionTimeout, maxSessionTimeout),
			"Set auth.session_timeout to 30m or less."))
	} else {
		findings = append(findings, finding("AUTH_002", cat, domain.SeverityInfo,
			fmt.Sprintf("Session timeout configured (%s)", auth.SessionTimeout), ""))
	}

	if auth.MaxFailedAttempts <= 0 || auth.MaxFailedAttempts > maxFailedAttempts {
		findings = append(findings, finding("AUTH_005", cat, domain.SeverityMedium,
			fmt.Sprintf("Account lockout threshold %d is outside 1..%d", auth.MaxFailedAttempts, maxFailedAttempts),
			"Set auth.max_failed_attempts between 1 and 5."))
	}
	if auth.AccountLockout < minLockout {
		findings = append(findings, finding("AUTH_006", cat, domain.SeverityLow,
			fmt.Sprintf("Account lockout duration %s is shorter than %s", auth.AccountLockout, minLockout), ""))
	}

	if auth.AnomalyThreshold >= 1 {
		findings = append(findings, finding("AUTH_007", cat, domain.SeverityHigh,
			"Anomaly threshold of 1 never rejects a session",
			"Lower auth.anomaly_threshold below 1."))
	}
	return findings
}

// auditCompliance reports the configured attestations.
func (a *SecurityAuditor) auditCompliance() []domain.AuditFinding {
	var findings []domain.AuditFinding
	cat := domain.CategoryCompliance
	c := a.cfg.Compliance

	if c.LGPDCompliant {
		findings = append(findings, finding("COMP_001", cat, domain.SeverityInfo, "LGPD compliance verified", ""))
	} else {
		findings = append(findings, finding("COMP_003", cat, domain.SeverityCritical,
			"LGPD compliance is not attested",
			"Complete the LGPD assessment before processing personal data."))
	}

	if c.ISO27001Certified {
		findings = append(findings, finding("COMP_002", cat, domain.SeverityInfo, "ISO 27001 controls active", ""))
	} else {
		findings = append(findings, finding("COMP_004", cat, domain.SeverityHigh,
			"ISO 27001 certification is missing", ""))
	}

	switch {
	case c.PCIDSSLevel < 1 || c.PCIDSSLevel > 4:
		findings = append(findings, finding("COMP_005", cat, domain.SeverityMedium,
			fmt.Sprintf("PCI-DSS level %d is not a valid level", c.PCIDSSLevel), "Set compliance.pci_dss_level to 1-4."))
	case c.PCIDSSLevel > 1:
		findings = append(findings, finding("COMP_005", cat, domain.SeverityLow,
			fmt.Sprintf("PCI-DSS level %d", c.PCIDSSLevel), ""))
	}

	if c.SOC2Type != 2 {
		findings = append(findings, finding("COMP_006", cat, domain.SeverityLow,
			fmt.Sprintf("SOC 2 Type %d report only", c.SOC2Type), ""))
	}
	return findings
}

// auditMonitoring checks the monitoring toggles and the live audit trail.
func (a *SecurityAuditor) auditMonitoring() []domain.AuditFinding {
	var findings []domain.AuditFinding
	cat := domain.CategoryMonitoring
	mon := a.cfg.Monitoring

	if mon.RealTimeAlerts {
		findings = append(findings, finding("MON_001", cat, domain.SeverityInfo, "Real-time monitoring active", ""))
	} else {
		findings = append(findings, finding("MON_003", cat, domain.SeverityMedium,
			"Real-time alerts are disabled", "Set monitoring.real_time_alerts: true."))
	}
	if !mon.IntrusionDetection {
		findings = append(findings, finding("MON_004", cat, domain.SeverityHigh,
			"Intrusion detection is disabled", "Set monitoring.intrusion_detection: true."))
	}
	if !mon.AnomalyDetection {
		findings = append(findings, finding("MON_005", cat, domain.SeverityMedium,
			"Anomaly detection is disabled", "Set monitoring.anomaly_detection: true."))
	}

	if !mon.AuditLogging || a.trail == nil {
		findings = append(findings, finding("MON_006", cat, domain.SeverityCritical,
			"Audit logging is disabled", "Set monitoring.audit_logging: true and configure an exporter."))
		return findings
	}

	if _, ok := a.trail.Last(); ok {
		findings = append(findings, finding("MON_002", cat, domain.SeverityInfo, "Audit logging functional", ""))
	} else {
		findings = append(findings, finding("MON_007", cat, domain.SeverityLow,
			"Audit trail is empty", ""))
	}

	return append(findings, a.auditTraffic()...)
}

// auditTraffic looks at the pipeline decisions of the last hour.
func (a *SecurityAuditor) auditTraffic() []domain.AuditFinding {
	var total, denied, threats int
	for _, rec := range a.trail.Since(a.clock().Add(-activityWindow)) {
		switch {
		case rec.Event == domain.AuditEventRequestAllowed:
			total++
		case rec.IsDenial():
			total++
			denied++
			if rec.Event == domain.AuditEventThreatDetected {
				threats++
			}
		}
	}
	if total < a.minSamples {
		return nil
	}

	var findings []domain.AuditFinding
	cat := domain.CategoryMonitoring
	ratio := float64(denied) / float64(total)
	if ratio > a.maxDenialRatio {
		findings = append(findings, finding("MON_008", cat, domain.SeverityMedium,
			fmt.Sprintf("%.0f%% of %d requests denied in the last hour", ratio*100, total),
			"Review recent denials for misconfigured permissions or abusive clients."))
	}
	if threats >= a.minSamples {
		findings = append(findings, finding("MON_009", cat, domain.SeverityHigh,
			fmt.Sprintf("%d threat detections in the last hour", threats),
			"Investigate the sources of the blocked payloads."))
	}
	return findings
}
