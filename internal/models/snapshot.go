package models

import "time"

// StatusSnapshot is one normalized status frame. Snapshots are values and
// are never mutated after the normalizer returns them.
type StatusSnapshot struct {
	ReceivedAt time.Time `json:"receivedAt"`

	Temperature Temperatures `json:"temperature"`
	Position    Position     `json:"position"`
	Fans        Fans         `json:"fans"`
	Lighting    Lighting     `json:"lighting"`
	Print       PrintJob     `json:"print"`

	TotalPrintTime Float `json:"totalPrintTime"`
	PrintError     Int   `json:"printError"`
	TimeLapse      Int   `json:"timeLapseStatus"`
}

// Temperatures in °C
type Temperatures struct {
	Hotbed       Float `json:"hotbed"`
	Nozzle       Float `json:"nozzle"`
	Box          Float `json:"box"`
	HotbedTarget Float `json:"hotbedTarget"`
	NozzleTarget Float `json:"nozzleTarget"`
	BoxTarget    Float `json:"boxTarget"`
}

// Position in mm. Either all three axes are present or none is.
type Position struct {
	X       Float `json:"x"`
	Y       Float `json:"y"`
	Z       Float `json:"z"`
	ZOffset Float `json:"zOffset"`
}

// Fans speeds in percent
type Fans struct {
	Model     Float `json:"modelFan"`
	Auxiliary Float `json:"auxiliaryFan"`
	Box       Float `json:"boxFan"`
}

// Lighting state. RGB is nil when the printer did not report it.
type Lighting struct {
	SecondLight Bool  `json:"secondLight"`
	RGB         []int `json:"rgb"`
}

// PrintJob describes the current job. Ticks are milliseconds.
type PrintJob struct {
	Status       Int    `json:"status"`
	StatusText   string `json:"statusText,omitempty"`
	Progress     Float  `json:"progress"`
	CurrentLayer Int    `json:"currentLayer"`
	TotalLayers  Int    `json:"totalLayers"`
	Filename     String `json:"filename"`
	PrintSpeed   Float  `json:"printSpeed"`
	CurrentTicks Float  `json:"currentTicks"`
	TotalTicks   Float  `json:"totalTicks"`
}
