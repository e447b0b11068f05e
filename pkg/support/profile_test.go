package support

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestProfileStore(t *testing.T) *ProfileStore {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	ps, err := NewProfileStore(filepath.Join(t.TempDir(), "profiles.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	return ps
}

func TestProfileSaveAndLookup(t *testing.T) {
	ps := createTestProfileStore(t)
	ctx := context.Background()

	p := &Profile{
		CustomerID: "CUST100",
		Name:       "Customer 1",
		Email:      "customer1@example.com",
		Country:    "USA",
		State:      "California",
		PurchaseHistory: []Purchase{
			{PurchaseID: "PUR1000", ProductName: "SunPower X", ProductType: "panel", Price: 1200, Quantity: 2, PurchaseDate: time.Now().AddDate(-1, 0, 0)},
		},
		Preferences: Preferences{ContactPreference: "email", Newsletter: true},
	}
	require.NoError(t, ps.Save(ctx, p))

	byID, err := ps.GetByID(ctx, "CUST100")
	require.NoError(t, err)
	assert.Equal(t, "Customer 1", byID.Name)
	require.Len(t, byID.PurchaseHistory, 1)
	assert.Equal(t, "SunPower X", byID.PurchaseHistory[0].ProductName)
	assert.True(t, byID.Preferences.Newsletter)

	byEmail, err := ps.GetByEmail(ctx, "customer1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "CUST100", byEmail.CustomerID)
}

func TestProfileLookupValidation(t *testing.T) {
	ps := createTestProfileStore(t)
	ctx := context.Background()

	_, err := ps.Lookup(ctx, "", "")
	assert.Error(t, err)

	_, err = ps.Lookup(ctx, "CUST999", "")
	assert.ErrorIs(t, err, ErrProfileNotFound)

	_, err = ps.Lookup(ctx, "", "missing@example.com")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfileSaveValidation(t *testing.T) {
	ps := createTestProfileStore(t)
	ctx := context.Background()

	assert.Error(t, ps.Save(ctx, &Profile{Email: "a@example.com"}))
	assert.Error(t, ps.Save(ctx, &Profile{CustomerID: "CUST1"}))
}

func TestApplyUpdates(t *testing.T) {
	ps := createTestProfileStore(t)
	ctx := context.Background()

	require.NoError(t, ps.Save(ctx, &Profile{
		CustomerID:  "CUST100",
		Name:        "Customer 1",
		Email:       "customer1@example.com",
		Country:     "USA",
		State:       "Texas",
		Preferences: Preferences{ContactPreference: "email"},
	}))

	updated, err := ps.ApplyUpdates(ctx, "CUST100", map[string]interface{}{
		"state":              "California",
		"contact_preference": "phone",
		"newsletter":         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "California", updated.State)
	assert.Equal(t, "phone", updated.Preferences.ContactPreference)
	assert.True(t, updated.Preferences.Newsletter)

	// Persisted, not only in memory
	reloaded, err := ps.GetByID(ctx, "CUST100")
	require.NoError(t, err)
	assert.Equal(t, "California", reloaded.State)
}

func TestApplyUpdatesRejectsUnknownFields(t *testing.T) {
	ps := createTestProfileStore(t)
	ctx := context.Background()

	require.NoError(t, ps.Save(ctx, &Profile{CustomerID: "CUST100", Name: "C", Email: "c@example.com"}))

	_, err := ps.ApplyUpdates(ctx, "CUST100", map[string]interface{}{"purchase_history": []string{}})
	assert.Error(t, err)

	_, err = ps.ApplyUpdates(ctx, "CUST100", map[string]interface{}{})
	assert.Error(t, err)
}

func TestApplyUpdatesMissingCustomer(t *testing.T) {
	ps := createTestProfileStore(t)

	_, err := ps.ApplyUpdates(context.Background(), "CUST404", map[string]interface{}{"name": "X"})
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSeedProfiles(t *testing.T) {
	ps := createTestProfileStore(t)
	ctx := context.Background()

	ids, err := SeedProfiles(ctx, ps, 5)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
	assert.Equal(t, "CUST100", ids[0])

	count, err := ps.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	p, err := ps.GetByID(ctx, "CUST102")
	require.NoError(t, err)
	assert.NotEmpty(t, p.PurchaseHistory)
	assert.NotEmpty(t, p.Email)
}

func TestSeedKnowledgeDocs(t *testing.T) {
	docs := filepath.Join(t.TempDir(), "docs")
	require.NoError(t, SeedKnowledgeDocs(docs))

	entries, err := os.ReadDir(docs)
	require.NoError(t, err)
	assert.Len(t, entries, len(seedArticles))

	// Re-seeding does not overwrite
	require.NoError(t, os.WriteFile(filepath.Join(docs, "panel-cleaning.md"), []byte("edited"), 0644))
	require.NoError(t, SeedKnowledgeDocs(docs))
	content, err := os.ReadFile(filepath.Join(docs, "panel-cleaning.md"))
	require.NoError(t, err)
	assert.Equal(t, "edited", string(content))
}
