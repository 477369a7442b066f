// Package fakepanel is an in-memory Combivox Amica web interface, used in
// tests.
package fakepanel

import (
	"fmt"
	"strings"
)

// Blob builds <si> status strings. Positions are in hex digits.
type Blob struct {
	// RevisionB places the marker at Length-1130 instead of MarkerAt.
	RevisionB bool
	Length    int
	MarkerAt  int
	// MarkerSuffix follows FFFFFF. Revision A needs 0000 or 0101.
	MarkerSuffix string

	GSMSignal   byte
	GSMOperator byte
	GSMStatus   byte

	Alarm     byte
	AreasMask uint16
	Anomaly   byte

	Open     []int
	Excluded []int
	Memory   []int

	// Commands and Modules are only meaningful for revision B.
	Commands []int
	Modules  map[int][2]byte
}

// RevisionA returns a disarmed revision A status with the marker at 100.
func RevisionA() Blob {
	return Blob{
		Length:       1200,
		MarkerAt:     100,
		MarkerSuffix: "0000",
		GSMSignal:    4,
		GSMOperator:  0x02,
		GSMStatus:    0x00,
		Alarm:        0x0C,
	}
}

// RevisionB returns a disarmed revision B status.
func RevisionB() Blob {
	return Blob{
		RevisionB:    true,
		Length:       1600,
		MarkerSuffix: "0202",
		GSMSignal:    3,
		GSMOperator:  0x01,
		GSMStatus:    0x08,
		Alarm:        0x0C,
	}
}

func (b Blob) Marker() int {
	if b.RevisionB {
		return b.Length - 1130
	}
	return b.MarkerAt
}

func (b Blob) String() string {
	// filler can never be mistaken for a marker
	s := []byte(strings.Repeat("1", b.Length))
	put := func(pos int, v string) {
		if pos < 0 || pos+len(v) > len(s) {
			panic(fmt.Sprintf("fakepanel: %q does not fit at %d in %d digits", v, pos, len(s)))
		}
		copy(s[pos:], v)
	}
	bits := func(pos int, set []int, inverted bool) {
		var octets [40]byte
		if inverted {
			for i := range octets {
				octets[i] = 0xFF
			}
		}
		for _, n := range set {
			idx, bit := (n-1)/8, uint((n-1)%8)
			if inverted {
				octets[idx] &^= 1 << bit
			} else {
				octets[idx] |= 1 << bit
			}
		}
		put(pos, fmt.Sprintf("%X", octets[:]))
	}

	put(4, fmt.Sprintf("%02X", b.GSMSignal))
	put(10, fmt.Sprintf("%02X", b.GSMOperator))
	put(12, fmt.Sprintf("%02X", b.GSMStatus))

	m := b.Marker()
	put(m, "FFFFFF"+b.MarkerSuffix)
	put(m-12, fmt.Sprintf("%04X", b.AreasMask))
	put(m-32, fmt.Sprintf("%02X", b.Alarm))
	bits(m+10, b.Open, false)
	bits(m+10+80+4, b.Excluded, true)
	bits(b.Length-4-80, b.Memory, false)
	put(m+346, fmt.Sprintf("%02X", b.Anomaly))

	if b.RevisionB {
		var cmds [10]byte
		for _, n := range b.Commands {
			cmds[(n-1)/8] |= 1 << uint((n-1)%8)
		}
		put(b.Length-520, fmt.Sprintf("%X", cmds[:]))
		for i := 0; i < 32; i++ {
			ch := b.Modules[i+1]
			put(b.Length-484+i*4, fmt.Sprintf("%02X%02X", ch[0], ch[1]))
		}
	}
	return string(s)
}
