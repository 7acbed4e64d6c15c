package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoria/internal/model"
)

func vaultEntry(entryType, sensitivity, secret, description string) model.Candidate {
	return model.Candidate{Store: model.StoreVault, Fields: map[string]string{
		"entry_type": entryType, "source": "bank", "sensitivity": sensitivity,
		"secret_value": secret, "description": description,
	}}
}

func TestRedact(t *testing.T) {
	high := model.Entry{Store: model.StoreVault, Fields: map[string]string{"sensitivity": "high", "secret_value": "hunter2"}}
	got, hidden := Redact(high)
	assert.True(t, hidden)
	assert.Equal(t, Redacted, got.Get("secret_value"))
	assert.Equal(t, "hunter2", high.Get("secret_value"), "input untouched")

	low := model.Entry{Store: model.StoreVault, Fields: map[string]string{"sensitivity": "low", "secret_value": "555-0100"}}
	got, hidden = Redact(low)
	assert.False(t, hidden)
	assert.Equal(t, "555-0100", got.Get("secret_value"))

	other := model.Entry{Store: model.StoreSemantic, Fields: map[string]string{"sensitivity": "high"}}
	_, hidden = Redact(other)
	assert.False(t, hidden)
}

func TestSecretRequiresAuthorization(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreVault)
	res, err := m.InsertOrMerge(ctx, []model.Candidate{
		vaultEntry("password", "high", "hunter2", "Online banking login"),
		vaultEntry("phone", "low", "555-0100", "Branch office number"),
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	highID, lowID := res.Items[0].Entry.ID, res.Items[1].Entry.ID

	_, err = m.Secret(ctx, highID, false)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindAuthorization, KindOf(err))

	v, err := m.Secret(ctx, highID, true)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	v, err = m.Secret(ctx, lowID, false)
	require.NoError(t, err)
	assert.Equal(t, "555-0100", v)

	sem := newTestManager(t, model.StoreSemantic)
	_, err = sem.Secret(ctx, highID, true)
	assert.ErrorIs(t, err, ErrValidation)
}
