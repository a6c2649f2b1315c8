package crypto

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fartech2025/SDR-Juridico-sub003/internal/domain"
	"github.com/fartech2025/SDR-Juridico-sub003/pkg/errors"
)

// DataType classifies sensitive data for auditing.
type DataType string

const (
	DataTypePII         DataType = "PII"
	DataTypeFinancial   DataType = "FINANCIAL"
	DataTypeEducational DataType = "EDUCATIONAL"
)

// Valid reports whether t is a known data type.
func (t DataType) Valid() bool {
	switch t {
	case DataTypePII, DataTypeFinancial, DataTypeEducational:
		return true
	}
	return false
}

// Data access operations recorded in DATA_ACCESS audit records.
const (
	OperationEncrypt = "ENCRYPT"
	OperationDecrypt = "DECRYPT"
)

// EncryptSensitive encrypts data tagged with its type and records the access.
func (m *Manager) EncryptSensitive(ctx context.Context, data any, dataType DataType, sctx domain.SecurityContext) (string, error) {
	if !dataType.Valid() {
		return "", fmt.Errorf("unknown data type %q", dataType)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}

	version := m.CurrentKeyVersion(ctx)
	token, err := m.EncryptWithMetadata(ctx, json.RawMessage(raw), map[string]any{
		"data_type":   string(dataType),
		"timestamp":   m.clock().UTC().Format(time.RFC3339),
		"key_version": version,
	})
	if err != nil {
		return "", err
	}

	rec := domain.NewAuditRecord(domain.AuditEventDataAccess, sctx)
	rec.SetMetadata("operation", OperationEncrypt).
		SetMetadata("data_type", string(dataType)).
		SetMetadata("key_version", version).
		SetMetadata("data_size", len(raw))
	m.opts.Audit.Append(ctx, rec)

	return token, nil
}

// DecryptSensitive decrypts a token produced by EncryptSensitive and records
// the access. Failures are audited and reported as ErrDecryptionFailed
// without detail.
func (m *Manager) DecryptSensitive(ctx context.Context, token string, sctx domain.SecurityContext) (Payload, error) {
	p, err := m.Decrypt(ctx, token)

	rec := domain.NewAuditRecord(domain.AuditEventDataAccess, sctx)
	rec.SetMetadata("operation", OperationDecrypt).SetMetadata("success", err == nil)
	if err != nil {
		rec.Severity = domain.SeverityMedium
		rec.SetMetadata("error", err.Error())
		m.opts.Audit.Append(ctx, rec)
		return Payload{}, errors.Wrap(errors.ErrDecryptionFailed, "data decryption failed")
	}

	if dt, ok := p.Metadata["data_type"].(string); ok {
		rec.SetMetadata("data_type", dt)
	}
	rec.SetMetadata("key_version", p.KeyVersion)
	m.opts.Audit.Append(ctx, rec)
	return p, nil
}
