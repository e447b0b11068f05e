package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	s, err := NewStore(filepath.Join(t.TempDir(), "facts.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStoreEmptyPath(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	s, err := NewStore("", logger)
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestRememberAndRecall(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, "cust-1", "panel_model", "SunPower X"))

	f, err := s.Recall(ctx, "cust-1", "panel_model")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", f.CustomerID)
	assert.Equal(t, "SunPower X", f.Value)
	assert.False(t, f.UpdatedAt.IsZero())
}

func TestRememberValidation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.Remember(ctx, "", "key", "value"))
	assert.Error(t, s.Remember(ctx, "cust-1", "", "value"))
}

func TestRecallNotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Recall(context.Background(), "cust-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRememberOverwritesExistingKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, "cust-1", "preferred_contact", "email"))
	require.NoError(t, s.Remember(ctx, "cust-1", "preferred_contact", "phone"))

	f, err := s.Recall(ctx, "cust-1", "preferred_contact")
	require.NoError(t, err)
	assert.Equal(t, "phone", f.Value)

	facts, err := s.Facts(ctx, "cust-1", 0)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestFactsRecencyOrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("fact-%d", i)
		require.NoError(t, s.Remember(ctx, "cust-1", key, "v"))
	}

	facts, err := s.Facts(ctx, "cust-1", 3)
	require.NoError(t, err)
	require.Len(t, facts, 3)

	// Most recently written first
	assert.Equal(t, "fact-4", facts[0].Key)
	assert.Equal(t, "fact-3", facts[1].Key)
	assert.Equal(t, "fact-2", facts[2].Key)
}

func TestFactsIsolatedByCustomer(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, "cust-1", "roof_type", "tile"))
	require.NoError(t, s.Remember(ctx, "cust-2", "roof_type", "metal"))

	facts, err := s.Facts(ctx, "cust-1", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "tile", facts[0].Value)
}

func TestForget(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, "cust-1", "temp", "x"))
	require.NoError(t, s.Forget(ctx, "cust-1", "temp"))

	_, err := s.Recall(ctx, "cust-1", "temp")
	assert.ErrorIs(t, err, ErrNotFound)

	// Forgetting a missing key is fine
	assert.NoError(t, s.Forget(ctx, "cust-1", "never-existed"))
}

func TestConcurrentWritesSameCustomer(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", n)
			assert.NoError(t, s.Remember(ctx, "cust-1", key, "v"))
		}(i)
	}
	wg.Wait()

	facts, err := s.Facts(ctx, "cust-1", 0)
	require.NoError(t, err)
	assert.Len(t, facts, 10)
}

func TestReadAfterWrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		value := fmt.Sprintf("v-%d", i)
		require.NoError(t, s.Remember(ctx, "cust-1", "counter", value))

		f, err := s.Recall(ctx, "cust-1", "counter")
		require.NoError(t, err)
		assert.Equal(t, value, f.Value)
	}
}
