package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbaninfra/internal/regions"
	"urbaninfra/internal/regions/regionstest"
)

type selRecorder struct {
	ids []string
	err error
}

func (s *selRecorder) SearchSelect(id string) error {
	s.ids = append(s.ids, id)
	return s.err
}

func newController(t *testing.T, now func() time.Time) (*Controller, *selRecorder, *regions.Dataset) {
	t.Helper()
	ds := regionstest.Dataset()
	sel := &selRecorder{}
	return NewController(ds.Index, sel, Options{CacheSize: 2, CacheTTL: time.Minute, Now: now}), sel, ds
}

func TestQueryDelegatesToIndex(t *testing.T) {
	c, _, ds := newController(t, nil)
	assert.Equal(t, ds.Index.Search("NAGAR"), c.Query("nagar"))
	assert.Len(t, c.Query("nagar"), regions.DefaultMaxResults)
	assert.Empty(t, c.Query("  "))
}

func TestQueryCacheExpiresAndEvicts(t *testing.T) {
	now := time.Unix(0, 0)
	c, _, _ := newController(t, func() time.Time { return now })

	c.Query("rohini")
	c.Query("nagar")
	assert.Equal(t, 2, c.cache.len())
	_, ok := c.cache.get("ROHINI")
	assert.True(t, ok)

	c.Query("bawana")
	assert.Equal(t, 2, c.cache.len())
	_, ok = c.cache.get("NAGAR")
	assert.False(t, ok, "least recently used entry evicted")

	now = now.Add(2 * time.Minute)
	_, ok = c.cache.get("ROHINI")
	assert.False(t, ok, "expired entry dropped")
}

func TestGoPrefersExactMatches(t *testing.T) {
	c, sel, ds := newController(t, nil)
	rohini := regionstest.MustWard(ds.Catalog, "ROHINI")

	e, err := c.Go("Rohini")
	require.NoError(t, err)
	assert.Equal(t, rohini.ID, e.RegionID)

	e, err = c.Go(rohini.Number)
	require.NoError(t, err)
	assert.Equal(t, rohini.ID, e.RegionID)

	e, err = c.Go("narel")
	require.NoError(t, err)
	assert.Equal(t, "NARELA", e.DisplayName)

	assert.Equal(t, []string{rohini.ID, rohini.ID, e.RegionID}, sel.ids)
}

func TestGoErrors(t *testing.T) {
	c, sel, _ := newController(t, nil)

	_, err := c.Go("atlantis")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, err = c.Go("ram nagar")
	assert.ErrorIs(t, err, ErrAmbiguous)

	_, err = c.Go("nagar")
	assert.ErrorIs(t, err, ErrAmbiguous)

	assert.Empty(t, sel.ids)
}
