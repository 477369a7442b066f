package combivox

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Revision selects how the status marker is located.
type Revision uint8

const (
	// RevisionAuto scans for the marker and falls back to the fixed offset.
	RevisionAuto Revision = iota
	// RevisionA scans for FFFFFF followed by 0000 or 0101.
	RevisionA
	// RevisionB uses a fixed offset from the end of the status string.
	RevisionB
)

func (r Revision) String() string {
	switch r {
	case RevisionA:
		return "a"
	case RevisionB:
		return "b"
	default:
		return "auto"
	}
}

// ParseRevision parses "a", "b" or "auto".
func ParseRevision(s string) (Revision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return RevisionAuto, nil
	case "a":
		return RevisionA, nil
	case "b":
		return RevisionB, nil
	default:
		return RevisionAuto, fmt.Errorf("invalid protocol revision: %q", s)
	}
}

// AlarmState is the raw alarm byte of the status string.
type AlarmState byte

const (
	AlarmDisarmedGSMExcluded  AlarmState = 0x08
	AlarmDisarmed             AlarmState = 0x0C
	AlarmArmedWithDelay       AlarmState = 0x0D
	AlarmArming               AlarmState = 0x0E
	AlarmTriggeredGSMExcluded AlarmState = 0x88
	AlarmTriggered            AlarmState = 0x8C
	AlarmPending              AlarmState = 0x8D

	// AlarmUnknown is reported when the byte can't be read at all.
	AlarmUnknown AlarmState = 0xFF
)

// ParseAlarmState maps two hex digits to an alarm state.
// Anything that isn't an hex byte maps to AlarmUnknown.
func ParseAlarmState(s string) AlarmState {
	b, ok := parseHexByte(s)
	if !ok {
		return AlarmUnknown
	}
	return AlarmState(b)
}

// Known reports whether the byte is one of the documented states.
func (s AlarmState) Known() bool {
	switch s {
	case AlarmDisarmedGSMExcluded, AlarmDisarmed, AlarmArmedWithDelay, AlarmArming,
		AlarmTriggeredGSMExcluded, AlarmTriggered, AlarmPending:
		return true
	default:
		return false
	}
}

func (s AlarmState) Triggered() bool {
	return s == AlarmTriggered || s == AlarmTriggeredGSMExcluded
}

func (s AlarmState) Disarmed() bool {
	return s == AlarmDisarmed || s == AlarmDisarmedGSMExcluded
}

func (s AlarmState) String() string {
	switch s {
	case AlarmDisarmedGSMExcluded:
		return "disarmed_gsm_excluded"
	case AlarmDisarmed:
		return "disarmed"
	case AlarmArmedWithDelay:
		return "armed_with_delay"
	case AlarmArming:
		return "arming"
	case AlarmTriggeredGSMExcluded:
		return "triggered_gsm_excluded"
	case AlarmTriggered:
		return "triggered"
	case AlarmPending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(s))
	}
}

// Anomaly is the panel trouble byte.
type Anomaly byte

const (
	AnomalyOK         Anomaly = 0x00
	AnomalyBusTrouble Anomaly = 0x01
	AnomalyGSMTrouble Anomaly = 0x40
)

func (a Anomaly) Known() bool {
	return a == AnomalyOK || a == AnomalyBusTrouble || a == AnomalyGSMTrouble
}

func (a Anomaly) String() string {
	switch a {
	case AnomalyOK:
		return "ok"
	case AnomalyBusTrouble:
		return "bus_trouble"
	case AnomalyGSMTrouble:
		return "gsm_trouble"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(a))
	}
}

type GSMOperator byte

const (
	OperatorOther    GSMOperator = 0x00
	OperatorVodafone GSMOperator = 0x01
	OperatorTIM      GSMOperator = 0x02
	OperatorWind     GSMOperator = 0x03
	OperatorCombivox GSMOperator = 0x04
	OperatorNone     GSMOperator = 0xFF
)

func (o GSMOperator) String() string {
	switch o {
	case OperatorOther:
		return "other"
	case OperatorVodafone:
		return "vodafone"
	case OperatorTIM:
		return "tim"
	case OperatorWind:
		return "wind"
	case OperatorCombivox:
		return "combivox"
	case OperatorNone:
		return "unknown"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(o))
	}
}

type GSMStatus byte

const (
	GSMStatusOK        GSMStatus = 0x00
	GSMStatusSearching GSMStatus = 0x04
	GSMStatusNoSIM     GSMStatus = 0x05
	GSMStatusOKAlt     GSMStatus = 0x08
	GSMStatusOKRoaming GSMStatus = 0x18
)

func (s GSMStatus) OK() bool {
	return s == GSMStatusOK || s == GSMStatusOKAlt || s == GSMStatusOKRoaming
}

func (s GSMStatus) String() string {
	switch s {
	case GSMStatusOK, GSMStatusOKAlt, GSMStatusOKRoaming:
		return "ok"
	case GSMStatusSearching:
		return "searching"
	case GSMStatusNoSIM:
		return "no_sim"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(s))
	}
}

type GSM struct {
	Available bool
	Bars      int
	Percent   int
	Operator  GSMOperator
	Status    GSMStatus
}

// Channel is the state of one domotic module output.
type Channel byte

const (
	ChannelOff Channel = 0x00
	ChannelOn  Channel = 0x07
)

func (c Channel) Known() bool {
	return c == ChannelOff || c == ChannelOn
}

func (c Channel) String() string {
	switch c {
	case ChannelOff:
		return "off"
	case ChannelOn:
		return "on"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(c))
	}
}

type Area struct {
	Number int
	Armed  bool
}

type Zone struct {
	Number      int
	Open        bool
	Included    bool
	AlarmMemory bool
}

// Bypassed is the inverse of Included.
func (z Zone) Bypassed() bool {
	return !z.Included
}

// Module is a two channel domotic module. Channel A drives command
// FirstCommand and channel B drives FirstCommand+1.
type Module struct {
	Number       int
	FirstCommand int
	A            Channel
	B            Channel
}

// Status is a decoded snapshot of the panel. It is never mutated after
// being returned.
type Status struct {
	Updated   time.Time
	PanelTime time.Time
	Revision  Revision
	Marker    int

	HasAlarm bool
	Alarm    AlarmState

	AreasMask  uint16
	ArmedAreas []int
	Areas      []Area
	Zones      []Zone
	GSM        GSM

	HasAnomaly bool
	Anomaly    Anomaly

	// Commands holds output states by command id: 1..80 from the command
	// bitmask, and the domotic module channels from 145 on.
	Commands map[int]bool
	Modules  []Module
}

func (s Status) Zone(number int) (Zone, bool) {
	for _, z := range s.Zones {
		if z.Number == number {
			return z, true
		}
	}
	return Zone{}, false
}

func (s Status) Area(number int) (Area, bool) {
	for _, a := range s.Areas {
		if a.Number == number {
			return a, true
		}
	}
	return Area{}, false
}

func (s Status) Command(id int) (on bool, ok bool) {
	on, ok = s.Commands[id]
	return on, ok
}

// Triggered reports whether the siren is firing.
func (s Status) Triggered() bool {
	return s.HasAlarm && s.Alarm.Triggered()
}

func parseHexByte(s string) (byte, bool) {
	if len(s) != 2 {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(n), true
}
