package memory

import (
	"context"

	"github.com/rcliao/memoria/internal/model"
)

// Redacted replaces secret values the caller may not see.
const Redacted = "[REDACTED]"

// Redact hides the secret of a high-sensitivity vault entry and reports
// whether it did. The input entry is not modified.
func Redact(e model.Entry) (model.Entry, bool) {
	if e.Store != model.StoreVault || e.Get("sensitivity") != model.SensitivityHigh {
		return e, false
	}
	e = e.Clone()
	if _, ok := e.Fields["secret_value"]; ok {
		e.Fields["secret_value"] = Redacted
	}
	return e, true
}

// Secret returns the secret value of a vault entry. High-sensitivity
// secrets fail with an authorization error unless authorized is set.
func (m *Manager) Secret(ctx context.Context, id string, authorized bool) (string, error) {
	const op = "secret"
	if m.schema.Store != model.StoreVault {
		return "", errorf(op, KindValidation, m.schema.Store, "only %s entries hold secrets", model.StoreVault)
	}
	e, err := m.Get(ctx, id, false)
	if err != nil {
		return "", err
	}
	if _, hidden := Redact(*e); hidden && !authorized {
		return "", errorf(op, KindAuthorization, m.schema.Store, "entry %s is high sensitivity", id)
	}
	return e.Get("secret_value"), nil
}
