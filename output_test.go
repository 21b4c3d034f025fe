//go:build linux

package wlwin

import (
	"testing"

	"deedles.dev/ximage/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerateScreens(t *testing.T) {
	d, f := newTestDisplay(t, withOutputs(
		fakeOutput{width: 1920, height: 1080, refresh: 59950, name: "DP-1"},
		fakeOutput{x: 1920, y: 0, width: 1280, height: 1024, refresh: 75000},
	))

	screens, err := EnumerateScreens(d)
	require.NoError(t, err)
	require.Len(t, screens, 2)

	assert.Equal(t, ScreenProperties{
		Name:        "DP-1",
		Area:        geom.Rt(0, 0, 1920, 1080),
		RefreshRate: 59,
		Scale:       1,
	}, screens[0])
	assert.Equal(t, ScreenProperties{
		Name:        "Fake-Panel",
		Area:        geom.Rt(1920, 0, 3200, 1024),
		RefreshRate: 75,
		Scale:       1,
	}, screens[1])

	assert.Zero(t, f.liveCount("wl_output"))
	assert.Equal(t, geom.Pt(3200, 2104), screensExtent(screens))
}

func TestEnumerateScreensWithoutOutputs(t *testing.T) {
	d, _ := newTestDisplay(t)

	screens, err := EnumerateScreens(d)
	require.NoError(t, err)
	assert.Empty(t, screens)
	assert.Equal(t, geom.Point[int]{}, screensExtent(screens))
}

func TestGlobalsListOutputs(t *testing.T) {
	d, _ := newTestDisplay(t, withOutputs(fakeOutput{width: 10, height: 10}))

	g := d.Globals()
	require.Len(t, g.Outputs, 1)
	assert.Equal(t, "wl_output", g.Outputs[0].Interface)
	require.NotNil(t, g.Seat)
	assert.Equal(t, "seat0", g.Seat.Name())
}

func TestRemovedOutputIsNotEnumerated(t *testing.T) {
	d, f := newTestDisplay(t, withOutputs(
		fakeOutput{width: 10, height: 10, name: "gone"},
		fakeOutput{x: 10, width: 20, height: 20, name: "kept"},
	))

	registry := f.liveIDs("wl_registry")
	require.Len(t, registry, 1)
	f.event(registry[0], 1, uint32(100)) // global_remove
	f.drain(t, d)

	require.Len(t, d.Globals().Outputs, 1)

	screens, err := EnumerateScreens(d)
	require.NoError(t, err)
	require.Len(t, screens, 1)
	assert.Equal(t, "kept", screens[0].Name)
}
