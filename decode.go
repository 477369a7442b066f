package combivox

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

const marker = "FFFFFF"

// Layout holds the reverse engineered offsets of the status string, in hex
// digits. They are protocol constants: change them only to match a firmware.
type Layout struct {
	// ScanStart is where the revision A marker scan begins.
	ScanStart int
	// MarkerFromEnd is the revision B marker position, counted from the end.
	MarkerFromEnd int

	AreasOffset int
	AlarmOffset int

	ZonesOffset   int
	ZoneBytes     int
	InclusionPad  int
	MemoryFromEnd int

	// AnomalyOffset is counted from the marker start.
	AnomalyOffset int

	CommandsFromEnd    int
	CommandBytes       int
	ModulesFromEnd     int
	Modules            int
	FirstModuleCommand int

	// MaxZones caps zone decoding when no catalog is given.
	MaxZones int
}

func DefaultLayout() Layout {
	return Layout{
		ScanStart:          64,
		MarkerFromEnd:      1130,
		AreasOffset:        -12,
		AlarmOffset:        -32,
		ZonesOffset:        10,
		ZoneBytes:          40,
		InclusionPad:       4,
		MemoryFromEnd:      4,
		AnomalyOffset:      346,
		CommandsFromEnd:    520,
		CommandBytes:       10,
		ModulesFromEnd:     484,
		Modules:            32,
		FirstModuleCommand: 145,
		MaxZones:           199,
	}
}

// Decoder turns the status9.xml payload into a Status.
type Decoder struct {
	Layout   Layout
	Revision Revision
	Logger   *logp.Logger
}

func NewDecoder(rev Revision) Decoder {
	return Decoder{
		Layout:   DefaultLayout(),
		Revision: rev,
	}
}

type statusXML struct {
	CD string `xml:"cd"`
	SI string `xml:"si"`
}

// DecodeXML decodes a whole status9.xml document.
func (d Decoder) DecodeXML(body []byte, zones []int, areas int) (Status, error) {
	var doc statusXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return Status{}, fmt.Errorf("could not parse status xml: %w", err)
	}
	status, err := d.Decode(doc.SI, zones, areas)
	if err != nil {
		return Status{}, err
	}
	if cd := strings.TrimSpace(doc.CD); cd != "" {
		t, err := ParsePanelTime(cd)
		if err != nil {
			d.logger().Warn("could not parse panel time", "cd", cd, "err", err)
		}
		status.PanelTime = t
	}
	return status, nil
}

// Decode decodes the <si> hex string. zones is the list of provisioned zone
// numbers, areas the number of provisioned areas.
//
// Only a missing string or marker fail the decode: any other field that
// can't be read is left empty and logged.
func (d Decoder) Decode(si string, zones []int, areas int) (Status, error) {
	s := strings.ToUpper(strings.TrimSpace(si))
	if s == "" {
		return Status{}, ErrMissingStatus
	}

	pos, rev, err := d.locate(s)
	if err != nil {
		return Status{}, err
	}
	l := d.Layout
	log := d.logger()
	log.Debug("found marker", "pos", pos, "revision", rev, "len", len(s))

	status := Status{
		Revision: rev,
		Marker:   pos,
		GSM:      decodeGSM(s),
	}
	if !status.GSM.Available {
		log.Debug("status too short for gsm data", "len", len(s))
	}

	status.AreasMask, status.ArmedAreas, status.Areas = d.decodeAreas(s, pos, areas)

	if b, ok := hexAt(s, pos+l.AlarmOffset); ok {
		status.HasAlarm = true
		status.Alarm = AlarmState(b)
		if !status.Alarm.Known() {
			log.Warn("unknown panel state", "state", status.Alarm)
		}
	} else {
		status.Alarm = AlarmUnknown
		log.Warn("could not read alarm state", "pos", pos+l.AlarmOffset)
	}

	if b, ok := hexAt(s, pos+l.AnomalyOffset); ok {
		status.HasAnomaly = true
		status.Anomaly = Anomaly(b)
	} else {
		log.Debug("status too short for anomalies", "len", len(s))
	}

	status.Zones = d.decodeZones(s, pos, zones)

	if rev == RevisionB {
		status.Commands = d.decodeCommands(s)
		status.Modules = d.decodeModules(s)
		for _, m := range status.Modules {
			for i, ch := range []Channel{m.A, m.B} {
				if ch.Known() {
					status.Commands[m.FirstCommand+i] = ch == ChannelOn
				}
			}
		}
	}
	return status, nil
}

func (d Decoder) logger() *logp.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log
}

func (d Decoder) locate(s string) (int, Revision, error) {
	switch d.Revision {
	case RevisionA:
		if pos := d.scan(s); pos >= 0 {
			return pos, RevisionA, nil
		}
		return -1, RevisionA, fmt.Errorf("%w: no FFFFFF followed by 0000 or 0101", ErrMarkerNotFound)
	case RevisionB:
		pos, err := d.fromEnd(s)
		return pos, RevisionB, err
	default:
		if pos := d.scan(s); pos >= 0 {
			return pos, RevisionA, nil
		}
		pos, err := d.fromEnd(s)
		return pos, RevisionB, err
	}
}

func (d Decoder) scan(s string) int {
	start := d.Layout.ScanStart
	for start >= 0 && start < len(s) {
		i := strings.Index(s[start:], marker)
		if i < 0 {
			return -1
		}
		pos := start + i
		if pos+10 <= len(s) {
			switch s[pos+6 : pos+10] {
			case "0000", "0101":
				return pos
			}
		}
		start = pos + 1
	}
	return -1
}

func (d Decoder) fromEnd(s string) (int, error) {
	pos := len(s) - d.Layout.MarkerFromEnd
	if pos < 0 {
		return -1, fmt.Errorf(
			"%w: status has %d digits, need at least %d",
			ErrMarkerNotFound, len(s), d.Layout.MarkerFromEnd,
		)
	}
	if got := s[pos:min(pos+len(marker), len(s))]; got != marker {
		d.logger().Warn("unexpected bytes at marker position", "pos", pos, "got", got)
	}
	return pos, nil
}

func decodeGSM(s string) GSM {
	if len(s) < 16 {
		return GSM{}
	}
	signal, ok1 := hexAt(s, 4)
	operator, ok2 := hexAt(s, 10)
	status, ok3 := hexAt(s, 12)
	if !ok1 || !ok2 || !ok3 {
		return GSM{}
	}
	gsm := GSM{
		Available: true,
		Operator:  GSMOperator(operator),
		Status:    GSMStatus(status),
	}
	if signal <= 5 {
		gsm.Bars = int(signal)
		gsm.Percent = int(signal) * 20
	}
	return gsm
}

func (d Decoder) decodeAreas(s string, pos, count int) (uint16, []int, []Area) {
	if count <= 0 {
		count = 8
	}
	count = min(count, 16)

	var mask uint16
	start := pos + d.Layout.AreasOffset
	if hi, ok := hexAt(s, start); ok {
		if lo, ok := hexAt(s, start+2); ok {
			mask = uint16(hi)<<8 | uint16(lo)
		}
	} else {
		d.logger().Warn("marker too close to start to read areas", "pos", pos)
	}

	armed := []int{}
	areas := make([]Area, 0, count)
	for i := 0; i < count; i++ {
		a := Area{Number: i + 1, Armed: mask&(1<<i) > 0}
		if a.Armed {
			armed = append(armed, a.Number)
		}
		areas = append(areas, a)
	}
	return mask, armed, areas
}

func (d Decoder) decodeZones(s string, pos int, ids []int) []Zone {
	l := d.Layout
	zonesStart := pos + l.ZonesOffset
	inclusionStart := zonesStart + l.ZoneBytes*2 + l.InclusionPad
	memoryStart := len(s) - l.MemoryFromEnd - l.ZoneBytes*2

	if len(ids) == 0 {
		n := min(l.MaxZones, max(0, (len(s)-zonesStart)/2))
		for i := 1; i <= n; i++ {
			ids = append(ids, i)
		}
	} else {
		ids = slices.Clone(ids)
		slices.Sort(ids)
		ids = slices.Compact(ids)
	}

	log := d.logger()
	zones := make([]Zone, 0, len(ids))
	for _, id := range ids {
		if id < 1 {
			continue
		}
		idx, bit := (id-1)/8, uint((id-1)%8)
		if idx >= l.ZoneBytes {
			log.Warn("zone out of range", "zone", id)
			continue
		}
		octet, ok := hexAt(s, zonesStart+idx*2)
		if !ok {
			log.Debug("status too short for zone", "zone", id)
			continue
		}
		zone := Zone{
			Number:   id,
			Open:     octet&(1<<bit) > 0,
			Included: true,
		}
		if octet, ok := hexAt(s, inclusionStart+idx*2); ok {
			zone.Included = octet&(1<<bit) > 0
		}
		if memoryStart >= 0 {
			if octet, ok := hexAt(s, memoryStart+idx*2); ok {
				zone.AlarmMemory = octet&(1<<bit) > 0
			}
		}
		zones = append(zones, zone)
	}
	return zones
}

func (d Decoder) decodeCommands(s string) map[int]bool {
	l := d.Layout
	commands := map[int]bool{}
	start := len(s) - l.CommandsFromEnd
	if start < 0 || start+l.CommandBytes*2 > len(s) {
		d.logger().Debug("status too short for commands", "len", len(s))
		return commands
	}
	for i := 0; i < l.CommandBytes; i++ {
		octet, ok := hexAt(s, start+i*2)
		if !ok {
			continue
		}
		for j := 0; j < 8; j++ {
			commands[i*8+j+1] = octet&(1<<j) > 0
		}
	}
	return commands
}

func (d Decoder) decodeModules(s string) []Module {
	l := d.Layout
	start := len(s) - l.ModulesFromEnd
	if start < 0 {
		d.logger().Debug("status too short for domotic modules", "len", len(s))
		return nil
	}
	var modules []Module
	for i := 0; i < l.Modules; i++ {
		a, ok1 := hexAt(s, start+i*4)
		b, ok2 := hexAt(s, start+i*4+2)
		if !ok1 || !ok2 {
			break
		}
		modules = append(modules, Module{
			Number:       i + 1,
			FirstCommand: l.FirstModuleCommand + i*2,
			A:            Channel(a),
			B:            Channel(b),
		})
	}
	return modules
}

// ParsePanelTime parses the <cd> field: day, month, year-2000, hour, minute
// and second, one hex byte each.
func ParsePanelTime(cd string) (time.Time, error) {
	if len(cd) != 12 {
		return time.Time{}, fmt.Errorf("invalid panel time %q: expected 12 digits", cd)
	}
	var v [6]int
	for i := range v {
		b, ok := hexAt(cd, i*2)
		if !ok {
			return time.Time{}, fmt.Errorf("invalid panel time %q", cd)
		}
		v[i] = int(b)
	}
	day, month, year, hour, minute, second := v[0], v[1], 2000+v[2], v[3], v[4], v[5]
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	if t.Day() != day || int(t.Month()) != month || t.Hour() != hour ||
		t.Minute() != minute || t.Second() != second {
		return time.Time{}, fmt.Errorf("invalid panel time %q", cd)
	}
	return t, nil
}

func hexAt(s string, i int) (byte, bool) {
	if i < 0 || i+2 > len(s) {
		return 0, false
	}
	return parseHexByte(s[i : i+2])
}
