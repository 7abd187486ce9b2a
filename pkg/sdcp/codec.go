package sdcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedFrame is returned by Decode for payloads that are not a JSON object.
var ErrMalformedFrame = errors.New("malformed frame")

// Kind classifies an inbound frame.
type Kind int

// Frame kinds
const (
	KindUnrecognized Kind = iota
	KindStatus
	KindResponse
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindResponse:
		return "response"
	default:
		return "unrecognized"
	}
}

// Frame is a decoded inbound message.
type Frame struct {
	Kind     Kind
	Topic    string
	Status   *RawStatus
	Response *Response
	// Skipped names status fields dropped for having the wrong JSON type,
	// e.g. "PrintInfo.Status".
	Skipped []string
}

// Response is the Data object of a command-response frame.
type Response struct {
	Cmd         Command
	RequestID   string
	MainboardID string
	// Ack is nil when the response carries no Ack field.
	Ack       *int
	StreamURL string
	Data      json.RawMessage
}

// Encode builds a command envelope and returns it with its RequestID.
func Encode(cmd Command, payload any, now time.Time) ([]byte, string, error) {
	if payload == nil {
		payload = struct{}{}
	}

	requestID := uuid.New().String()
	env := Envelope{
		ID: "",
		Data: Request{
			Cmd:         cmd,
			Data:        payload,
			RequestID:   requestID,
			MainboardID: "",
			TimeStamp:   now.UnixMilli(),
			From:        1,
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("encode %s: %w", cmd, err)
	}
	return data, requestID, nil
}

// Decode classifies and parses an inbound frame. Frames that are valid JSON
// objects but match neither shape come back as KindUnrecognized with a nil
// error.
func Decode(data []byte) (*Frame, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	frame := &Frame{Kind: KindUnrecognized}
	if raw, ok := top["Topic"]; ok {
		_ = json.Unmarshal(raw, &frame.Topic)
	}

	if raw, ok := top["Status"]; ok && !isNull(raw) {
		status, skipped, err := decodeStatus(raw)
		if err != nil {
			return nil, err
		}
		frame.Kind = KindStatus
		frame.Status = status
		frame.Skipped = skipped
		return frame, nil
	}

	if raw, ok := top["Data"]; ok && !isNull(raw) {
		resp, err := decodeResponse(raw)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			frame.Kind = KindResponse
			frame.Response = resp
		}
	}

	return frame, nil
}

func decodeResponse(raw json.RawMessage) (*Response, error) {
	var body struct {
		Cmd         *Command        `json:"Cmd"`
		Data        json.RawMessage `json:"Data"`
		RequestID   string          `json:"RequestID"`
		MainboardID string          `json:"MainboardID"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		// Data that is not an object is not a response; leave it unrecognized.
		var probe any
		if json.Unmarshal(raw, &probe) == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedFrame, err)
	}
	if body.Cmd == nil {
		return nil, nil
	}

	resp := &Response{
		Cmd:         *body.Cmd,
		RequestID:   body.RequestID,
		MainboardID: body.MainboardID,
		Data:        body.Data,
	}

	if len(body.Data) > 0 && !isNull(body.Data) {
		var inner struct {
			Ack       *int   `json:"Ack"`
			StreamURL string `json:"StreamUrl"`
		}
		if json.Unmarshal(body.Data, &inner) == nil {
			resp.Ack = inner.Ack
			resp.StreamURL = inner.StreamURL
		}
	}

	return resp, nil
}

// decodeStatus reads the Status object field by field so one mistyped value
// only loses that value.
func decodeStatus(raw json.RawMessage) (*RawStatus, []string, error) {
	var skipped []string
	obj, err := newObject(raw, "", &skipped)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: status: %v", ErrMalformedFrame, err)
	}

	status := &RawStatus{
		TempOfHotbed:     field[float64](obj, "TempOfHotbed"),
		TempOfNozzle:     field[float64](obj, "TempOfNozzle"),
		TempOfBox:        field[float64](obj, "TempOfBox"),
		TempTargetHotbed: field[float64](obj, "TempTargetHotbed"),
		TempTargetNozzle: field[float64](obj, "TempTargetNozzle"),
		TempTargetBox:    field[float64](obj, "TempTargetBox"),
		CurrenCoord:      field[string](obj, "CurrenCoord"),
		ZOffset:          field[float64](obj, "ZOffset"),
		TotalPrintTime:   field[float64](obj, "TotalPrintTime"),
		PrintError:       field[int](obj, "PrintError"),
		TimeLapseStatus:  field[int](obj, "TimeLapseStatus"),
	}

	if fan := obj.child("CurrentFanSpeed"); fan != nil {
		status.CurrentFanSpeed = &RawFanSpeed{
			ModelFan:     field[float64](fan, "ModelFan"),
			AuxiliaryFan: field[float64](fan, "AuxiliaryFan"),
			BoxFan:       field[float64](fan, "BoxFan"),
		}
	}
	if light := obj.child("LightStatus"); light != nil {
		status.LightStatus = &RawLightStatus{SecondLight: field[Flag](light, "SecondLight")}
		if rgb := field[[]int](light, "RgbLight"); rgb != nil {
			status.LightStatus.RgbLight = *rgb
		}
	}
	if info := obj.child("PrintInfo"); info != nil {
		status.PrintInfo = &RawPrintInfo{
			Status:        field[int](info, "Status"),
			Progress:      field[float64](info, "Progress"),
			CurrentLayer:  field[int](info, "CurrentLayer"),
			TotalLayer:    field[int](info, "TotalLayer"),
			Filename:      field[string](info, "Filename"),
			PrintSpeedPct: field[float64](info, "PrintSpeedPct"),
			CurrentTicks:  field[float64](info, "CurrentTicks"),
			TotalTicks:    field[float64](info, "TotalTicks"),
		}
	}

	return status, skipped, nil
}

type object struct {
	path    string
	fields  map[string]json.RawMessage
	skipped *[]string
}

func newObject(raw json.RawMessage, path string, skipped *[]string) (*object, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("not an object")
	}
	return &object{path: path, fields: fields, skipped: skipped}, nil
}

func (o *object) skip(name string) {
	*o.skipped = append(*o.skipped, o.path+name)
}

// child returns the nested object name, or nil when it is absent, null or
// not an object.
func (o *object) child(name string) *object {
	raw, ok := o.fields[name]
	if !ok || isNull(raw) {
		return nil
	}
	c, err := newObject(raw, o.path+name+".", o.skipped)
	if err != nil {
		o.skip(name)
		return nil
	}
	return c
}

// field decodes one value of o. It returns nil when the value is absent,
// null or of the wrong type.
func field[T any](o *object, name string) *T {
	raw, ok := o.fields[name]
	if !ok || isNull(raw) {
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		o.skip(name)
		return nil
	}
	return &v
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
