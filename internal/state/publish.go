package state

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sdcp-bridge/sdcp-bridge/internal/models"
	"github.com/sdcp-bridge/sdcp-bridge/internal/status"
)

// Published paths
const (
	PathConnection  = "info.connection"
	PathState       = "info.state"
	PathLastFrameAt = "info.last_frame_at"

	PathLastAlert  = "alerts.last_alert"
	PathAlertCount = "alerts.count"

	PathCameraStreamURL = "camera.stream_url"
	PathPrintFile       = "control.print_file"
)

// IsControl reports whether path belongs to the control subtree. Control
// paths are inputs; sinks that share a namespace with the control
// subscribers keep them out of the published stream so they are not read
// back as new commands.
func IsControl(path string) bool {
	return strings.HasPrefix(path, "control.")
}

// AlertPath returns the path holding the active flag of kind.
func AlertPath(kind models.AlertKind) string {
	return "alerts." + string(kind)
}

// Fields flattens a snapshot into path/value pairs. Absent readings are
// left out so a missing field is never published as zero.
func Fields(snap models.StatusSnapshot) map[string]any {
	out := make(map[string]any)
	add := func(path string, v any) {
		if v != nil {
			out[path] = v
		}
	}

	t := snap.Temperature
	add("temperature.hotbed", t.Hotbed.Any())
	add("temperature.nozzle", t.Nozzle.Any())
	add("temperature.box", t.Box.Any())
	add("temperature.hotbed_target", t.HotbedTarget.Any())
	add("temperature.nozzle_target", t.NozzleTarget.Any())
	add("temperature.box_target", t.BoxTarget.Any())

	p := snap.Position
	add("position.x", p.X.Any())
	add("position.y", p.Y.Any())
	add("position.z", p.Z.Any())
	add("position.z_offset", p.ZOffset.Any())

	add("fans.model_fan", snap.Fans.Model.Any())
	add("fans.auxiliary_fan", snap.Fans.Auxiliary.Any())
	add("fans.box_fan", snap.Fans.Box.Any())

	add("lighting.second_light", snap.Lighting.SecondLight.Any())
	if rgb := snap.Lighting.RGB; len(rgb) == 3 {
		add("lighting.rgb_r", rgb[0])
		add("lighting.rgb_g", rgb[1])
		add("lighting.rgb_b", rgb[2])
	}

	job := snap.Print
	add("print.status", job.Status.Any())
	if job.Status.Valid {
		add("print.status_text", job.StatusText)
	}
	add("print.progress", job.Progress.Any())
	add("print.current_layer", job.CurrentLayer.Any())
	add("print.total_layers", job.TotalLayers.Any())
	add("print.filename", job.Filename.Any())
	add("print.print_speed", job.PrintSpeed.Any())
	add("print.current_ticks", job.CurrentTicks.Any())
	add("print.total_ticks", job.TotalTicks.Any())
	if job.CurrentTicks.Valid {
		add("print.elapsed_time", status.FormatTicks(int64(job.CurrentTicks.Value)))
	}
	if job.TotalTicks.Valid {
		add("print.total_time", status.FormatTicks(int64(job.TotalTicks.Value)))
	}
	if job.CurrentTicks.Valid && job.TotalTicks.Valid {
		add("print.remaining_time", status.FormatTicks(int64(job.TotalTicks.Value-job.CurrentTicks.Value)))
	}

	add("print.total_print_time", snap.TotalPrintTime.Any())
	add("print.error", snap.PrintError.Any())
	add("print.timelapse_status", snap.TimeLapse.Any())

	return out
}

// PublishSnapshot publishes every present field of snap. Each path is
// published independently; failures are logged and the rest continue.
// It returns the number of failed publishes.
func PublishSnapshot(ctx context.Context, sink Sink, snap models.StatusSnapshot) int {
	failed := 0
	for path, value := range Fields(snap) {
		if err := sink.Publish(ctx, path, value); err != nil {
			failed++
			log.Error().Err(err).Str("path", path).Msg("Failed to publish status field")
		}
	}
	return failed
}
