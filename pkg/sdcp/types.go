package sdcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultPort is the printer's SDCP WebSocket port.
const DefaultPort = 3030

// DefaultCameraPort serves the MJPEG stream.
const DefaultCameraPort = 3031

// Command is an SDCP command code.
type Command int

// SDCP command codes
const (
	CmdStatus     Command = 0
	CmdAttributes Command = 1
	CmdStartPrint Command = 128
	CmdPause      Command = 129
	CmdCancel     Command = 130
	CmdResume     Command = 131
	CmdCamera     Command = 386
	CmdControl    Command = 403
)

var commandNames = map[Command]string{
	CmdStatus:     "status",
	CmdAttributes: "attributes",
	CmdStartPrint: "start_print",
	CmdPause:      "pause",
	CmdCancel:     "cancel",
	CmdResume:     "resume",
	CmdCamera:     "camera",
	CmdControl:    "control",
}

// String returns a short name used in logs and metric labels.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd_%d", int(c))
}

// Envelope is the outbound command frame.
type Envelope struct {
	ID   string  `json:"Id"`
	Data Request `json:"Data"`
}

// Request is the body of an outbound command.
type Request struct {
	Cmd         Command `json:"Cmd"`
	Data        any     `json:"Data"`
	RequestID   string  `json:"RequestID"`
	MainboardID string  `json:"MainboardID"`
	TimeStamp   int64   `json:"TimeStamp"`
	From        int     `json:"From"`
}

// StartPrintPayload is the payload of CmdStartPrint.
type StartPrintPayload struct {
	Filename          string `json:"Filename"`
	StartLayer        int    `json:"StartLayer"`
	CalibrationSwitch int    `json:"Calibration_switch"`
	PrintPlatformType int    `json:"PrintPlatformType"`
	TlpSwitch         int    `json:"Tlp_Switch"`
}

// CameraPayload is the payload of CmdCamera.
type CameraPayload struct {
	Enable int `json:"Enable"`
}

// LightPayload is the CmdControl payload that sets the chamber lights.
type LightPayload struct {
	LightStatus LightState `json:"LightStatus"`
}

// LightState is the light block shared by commands and status frames.
type LightState struct {
	SecondLight bool  `json:"SecondLight"`
	RgbLight    []int `json:"RgbLight"`
}

// FanPayload is the CmdControl payload that sets target fan speeds.
type FanPayload struct {
	TargetFanSpeed map[string]int `json:"TargetFanSpeed"`
}

// Fan names as they appear on the wire
const (
	FanModel     = "ModelFan"
	FanAuxiliary = "AuxiliaryFan"
	FanBox       = "BoxFan"
)

// RawStatus is the Status object of an inbound status frame. Pointer fields
// stay nil when the printer omits them.
type RawStatus struct {
	TempOfHotbed     *float64        `json:"TempOfHotbed"`
	TempOfNozzle     *float64        `json:"TempOfNozzle"`
	TempOfBox        *float64        `json:"TempOfBox"`
	TempTargetHotbed *float64        `json:"TempTargetHotbed"`
	TempTargetNozzle *float64        `json:"TempTargetNozzle"`
	TempTargetBox    *float64        `json:"TempTargetBox"`
	CurrenCoord      *string         `json:"CurrenCoord"`
	ZOffset          *float64        `json:"ZOffset"`
	CurrentFanSpeed  *RawFanSpeed    `json:"CurrentFanSpeed"`
	LightStatus      *RawLightStatus `json:"LightStatus"`
	PrintInfo        *RawPrintInfo   `json:"PrintInfo"`
	TotalPrintTime   *float64        `json:"TotalPrintTime"`
	PrintError       *int            `json:"PrintError"`
	TimeLapseStatus  *int            `json:"TimeLapseStatus"`
}

// RawFanSpeed holds fan speeds in percent.
type RawFanSpeed struct {
	ModelFan     *float64 `json:"ModelFan"`
	AuxiliaryFan *float64 `json:"AuxiliaryFan"`
	BoxFan       *float64 `json:"BoxFan"`
}

// RawLightStatus is the light block of a status frame.
type RawLightStatus struct {
	SecondLight *Flag `json:"SecondLight"`
	RgbLight    []int `json:"RgbLight"`
}

// RawPrintInfo describes the current print job.
type RawPrintInfo struct {
	Status        *int     `json:"Status"`
	Progress      *float64 `json:"Progress"`
	CurrentLayer  *int     `json:"CurrentLayer"`
	TotalLayer    *int     `json:"TotalLayer"`
	Filename      *string  `json:"Filename"`
	PrintSpeedPct *float64 `json:"PrintSpeedPct"`
	CurrentTicks  *float64 `json:"CurrentTicks"`
	TotalTicks    *float64 `json:"TotalTicks"`
}

// Flag decodes a boolean sent either as true/false or as 0/1.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*f = true
		return nil
	case "false", "null":
		*f = false
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flag: %w", err)
	}
	*f = n != 0
	return nil
}
