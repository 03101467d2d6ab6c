package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"urbaninfra/internal/regions"
	"urbaninfra/internal/regions/regionstest"
	"urbaninfra/internal/render"
	"urbaninfra/internal/view"
)

var _ view.Engine = (*Sim)(nil)

func TestSimEmitsAfterDelays(t *testing.T) {
	clk := render.NewManualClock(time.Unix(0, 0))
	s := NewSim(Options{Clock: clk, IdleAfter: time.Second, TilesAfter: 2 * time.Second})
	var idle, tiles atomic.Int32
	s.Once(render.EngineIdle, func() { idle.Add(1) })
	s.Once(render.TilesLoaded, func() { tiles.Add(1) })

	s.Display(view.LayerSingle, nil)
	clk.Advance(time.Second)
	assert.Equal(t, int32(1), idle.Load())
	assert.Equal(t, int32(0), tiles.Load())
	clk.Advance(time.Second)
	assert.Equal(t, int32(1), tiles.Load())
}

func TestSimRedrawCancelsPendingSignals(t *testing.T) {
	clk := render.NewManualClock(time.Unix(0, 0))
	s := NewSim(Options{Clock: clk, IdleAfter: time.Second, TilesAfter: time.Second, DropTiles: true})
	s.SetStyle(view.StyleSatellite)
	s.Display(view.LayerSingle, nil)
	assert.Equal(t, 1, clk.Pending(), "only the latest idle signal is scheduled")
	clk.Advance(time.Minute)
	assert.Equal(t, 0, clk.Pending())
}

func TestSimDrivesMachine(t *testing.T) {
	clk := render.NewManualClock(time.Unix(0, 0))
	ds := regionstest.Dataset()
	s := NewSim(Options{Clock: clk})
	sub := &countingSubmitter{}
	m := view.New(ds.Catalog, s, sub, nopNav{}, view.Options{Clock: clk})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m.Start(ctx)
	defer m.Close()

	layer, shown := s.Shown()
	assert.Equal(t, view.LayerGroups, layer)
	assert.Len(t, shown, len(ds.Catalog.Groups()))

	w := regionstest.MustWard(ds.Catalog, "NARELA")
	require.NoError(t, m.SearchSelect(w.ID))
	cam := s.Camera()
	assert.Equal(t, view.StyleSatellite, cam.Style)
	assert.GreaterOrEqual(t, cam.Zoom, 12.0)

	clk.Advance(DefaultTilesAfter + render.DefaultSettle)
	m.Wait()
	assert.Equal(t, int32(1), sub.n.Load())

	_, shown = s.Shown()
	require.Len(t, shown, 1)
	assert.Equal(t, []*regions.Region{w}, shown)
}
