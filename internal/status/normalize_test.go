package status

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

func TestParseCoord(t *testing.T) {
	pos := ParseCoord("1.5,2.25,10")
	assert.True(t, pos.X.Valid)
	assert.Equal(t, 1.5, pos.X.Value)
	assert.Equal(t, 2.25, pos.Y.Value)
	assert.Equal(t, 10.0, pos.Z.Value)

	for _, in := range []string{"1.5,2.25", "", "a,b,c", "1,2,x"} {
		pos := ParseCoord(in)
		assert.False(t, pos.X.Valid, in)
		assert.False(t, pos.Y.Valid, in)
		assert.False(t, pos.Z.Valid, in)
	}

	pos = ParseCoord(" 0 , -3.5 , 7 ,extra")
	assert.True(t, pos.Z.Valid)
	assert.Equal(t, -3.5, pos.Y.Value)
}

func TestFormatTicks(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatTicks(0))
	assert.Equal(t, "00:00:00", FormatTicks(-5000))
	assert.Equal(t, "01:01:01", FormatTicks(3_661_000))
	assert.Equal(t, "00:00:59", FormatTicks(59_999))
	assert.Equal(t, "100:00:00", FormatTicks(360_000_000))
}

func TestFormatTicksMonotonic(t *testing.T) {
	prev := FormatTicks(0)
	for ms := int64(0); ms < 10_000_000; ms += 7_919 {
		cur := FormatTicks(ms)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestNormalizeFull(t *testing.T) {
	var raw sdcp.RawStatus
	require.NoError(t, json.Unmarshal([]byte(`{
		"TempOfHotbed": 60.2, "TempOfNozzle": 210, "TempOfBox": 31,
		"TempTargetHotbed": 60, "TempTargetNozzle": 210, "TempTargetBox": 0,
		"CurrenCoord": "10.0,20.5,3.2", "ZOffset": 0.15,
		"CurrentFanSpeed": {"ModelFan": 100, "AuxiliaryFan": 0, "BoxFan": 30},
		"LightStatus": {"SecondLight": true, "RgbLight": [10, 300, -4]},
		"PrintInfo": {"Status": 13, "Progress": 42, "CurrentLayer": 120, "TotalLayer": 400,
			"Filename": "benchy.gcode", "PrintSpeedPct": 100, "CurrentTicks": 3661000, "TotalTicks": 7200000},
		"TotalPrintTime": 0, "PrintError": 0, "TimeLapseStatus": 1
	}`), &raw))

	at := time.Unix(1700000000, 0)
	snap := Normalize(&raw, at)

	assert.Equal(t, at, snap.ReceivedAt)
	assert.Equal(t, 60.2, snap.Temperature.Hotbed.Value)
	assert.True(t, snap.Temperature.BoxTarget.Valid)
	assert.Equal(t, 0.0, snap.Temperature.BoxTarget.Value)
	assert.Equal(t, 20.5, snap.Position.Y.Value)
	assert.Equal(t, 0.15, snap.Position.ZOffset.Value)
	assert.True(t, snap.Fans.Auxiliary.Valid)
	assert.Equal(t, 30.0, snap.Fans.Box.Value)
	assert.True(t, snap.Lighting.SecondLight.Value)
	assert.Equal(t, []int{10, 255, 0}, snap.Lighting.RGB)
	assert.Equal(t, 13, snap.Print.Status.Value)
	assert.Equal(t, "Printing", snap.Print.StatusText)
	assert.Equal(t, "benchy.gcode", snap.Print.Filename.Value)
	assert.Equal(t, 400, snap.Print.TotalLayers.Value)
	assert.Equal(t, 1, snap.TimeLapse.Value)
}

func TestNormalizeMissingFieldsStayAbsent(t *testing.T) {
	var raw sdcp.RawStatus
	require.NoError(t, json.Unmarshal([]byte(`{"TempOfNozzle": 25, "PrintInfo": {"Status": 99}}`), &raw))

	snap := Normalize(&raw, time.Time{})
	assert.False(t, snap.Temperature.Hotbed.Valid)
	assert.True(t, snap.Temperature.Nozzle.Valid)
	assert.False(t, snap.Position.X.Valid)
	assert.False(t, snap.Position.ZOffset.Valid)
	assert.False(t, snap.Fans.Model.Valid)
	assert.False(t, snap.Lighting.SecondLight.Valid)
	assert.Nil(t, snap.Lighting.RGB)
	assert.False(t, snap.Print.Progress.Valid)
	assert.False(t, snap.Print.Filename.Valid)
	assert.Equal(t, "Unknown Status (99)", snap.Print.StatusText)
}

func TestNormalizeNil(t *testing.T) {
	snap := Normalize(nil, time.Time{})
	assert.False(t, snap.Print.Status.Valid)
	assert.Empty(t, snap.Print.StatusText)
}
