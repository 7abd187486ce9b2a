// Package status turns raw SDCP status payloads into snapshots.
package status

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/pkg/sdcp"
)

// Normalize maps a raw status payload onto a snapshot. Fields missing from
// raw stay absent. A nil raw yields an empty snapshot.
func Normalize(raw *sdcp.RawStatus, receivedAt time.Time) models.StatusSnapshot {
	snap := models.StatusSnapshot{ReceivedAt: receivedAt}
	if raw == nil {
		return snap
	}

	snap.Temperature = models.Temperatures{
		Hotbed:       models.FloatFrom(raw.TempOfHotbed),
		Nozzle:       models.FloatFrom(raw.TempOfNozzle),
		Box:          models.FloatFrom(raw.TempOfBox),
		HotbedTarget: models.FloatFrom(raw.TempTargetHotbed),
		NozzleTarget: models.FloatFrom(raw.TempTargetNozzle),
		BoxTarget:    models.FloatFrom(raw.TempTargetBox),
	}

	if raw.CurrenCoord != nil {
		snap.Position = ParseCoord(*raw.CurrenCoord)
	}
	snap.Position.ZOffset = models.FloatFrom(raw.ZOffset)

	if fans := raw.CurrentFanSpeed; fans != nil {
		snap.Fans = models.Fans{
			Model:     models.FloatFrom(fans.ModelFan),
			Auxiliary: models.FloatFrom(fans.AuxiliaryFan),
			Box:       models.FloatFrom(fans.BoxFan),
		}
	}

	if light := raw.LightStatus; light != nil {
		if light.SecondLight != nil {
			snap.Lighting.SecondLight = models.SomeBool(bool(*light.SecondLight))
		}
		if len(light.RgbLight) >= 3 {
			snap.Lighting.RGB = []int{
				clampByte(light.RgbLight[0]),
				clampByte(light.RgbLight[1]),
				clampByte(light.RgbLight[2]),
			}
		}
	}

	if info := raw.PrintInfo; info != nil {
		snap.Print = models.PrintJob{
			Status:       models.IntFrom(info.Status),
			Progress:     models.FloatFrom(info.Progress),
			CurrentLayer: models.IntFrom(info.CurrentLayer),
			TotalLayers:  models.IntFrom(info.TotalLayer),
			Filename:     models.StringFrom(info.Filename),
			PrintSpeed:   models.FloatFrom(info.PrintSpeedPct),
			CurrentTicks: models.FloatFrom(info.CurrentTicks),
			TotalTicks:   models.FloatFrom(info.TotalTicks),
		}
		if info.Status != nil {
			snap.Print.StatusText = sdcp.StatusText(*info.Status)
		}
	}

	snap.TotalPrintTime = models.FloatFrom(raw.TotalPrintTime)
	snap.PrintError = models.IntFrom(raw.PrintError)
	snap.TimeLapse = models.IntFrom(raw.TimeLapseStatus)

	return snap
}

// ParseCoord parses an "x,y,z" coordinate string. Unless all three
// components parse, the returned position is entirely absent.
func ParseCoord(s string) models.Position {
	parts := strings.Split(s, ",")
	if len(parts) < 3 {
		return models.Position{}
	}

	var xyz [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return models.Position{}
		}
		xyz[i] = v
	}

	return models.Position{
		X: models.SomeFloat(xyz[0]),
		Y: models.SomeFloat(xyz[1]),
		Z: models.SomeFloat(xyz[2]),
	}
}

// FormatTicks renders a millisecond count as HH:MM:SS. Hours are not
// wrapped at 24.
func FormatTicks(ms int64) string {
	if ms <= 0 {
		return "00:00:00"
	}
	total := ms / 1000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func clampByte(v int) int {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
