package combivox

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/homekit-combivox/internal/fakepanel"
	logp "github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func zoneRange(n int) []int {
	zones := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		zones = append(zones, i)
	}
	return zones
}

func TestDecodeRevisionA(t *testing.T) {
	blob := fakepanel.RevisionA()
	blob.Open = []int{4}
	blob.Excluded = []int{2}
	blob.Memory = []int{3}
	blob.AreasMask = 0x0005
	blob.Alarm = 0x8C
	blob.Anomaly = 0x40

	status, err := NewDecoder(RevisionA).Decode(blob.String(), zoneRange(8), 4)
	require.NoError(t, err)
	require.Equal(t, RevisionA, status.Revision)
	require.Equal(t, 100, status.Marker)

	require.True(t, status.HasAlarm)
	require.Equal(t, AlarmTriggered, status.Alarm)
	require.True(t, status.Triggered())

	require.Equal(t, uint16(5), status.AreasMask)
	require.Equal(t, []int{1, 3}, status.ArmedAreas)
	require.Len(t, status.Areas, 4)

	require.Len(t, status.Zones, 8)
	for _, z := range status.Zones {
		require.Equal(t, z.Number == 4, z.Open, "zone %d", z.Number)
		require.Equal(t, z.Number == 2, z.Bypassed(), "zone %d", z.Number)
		require.Equal(t, z.Number == 3, z.AlarmMemory, "zone %d", z.Number)
	}

	require.True(t, status.HasAnomaly)
	require.Equal(t, AnomalyGSMTrouble, status.Anomaly)

	require.Equal(t, GSM{
		Available: true,
		Bars:      4,
		Percent:   80,
		Operator:  OperatorTIM,
		Status:    GSMStatusOK,
	}, status.GSM)

	require.Nil(t, status.Commands)
	require.Nil(t, status.Modules)
}

func TestDecodeAutoPrefersScan(t *testing.T) {
	blob := fakepanel.RevisionA()
	blob.Open = []int{1}
	status, err := NewDecoder(RevisionAuto).Decode(blob.String(), []int{1}, 8)
	require.NoError(t, err)
	require.Equal(t, RevisionA, status.Revision)
	zone, ok := status.Zone(1)
	require.True(t, ok)
	require.True(t, zone.Open)
}

func TestDecodeMarker0101(t *testing.T) {
	blob := fakepanel.RevisionA()
	blob.MarkerAt = 120
	blob.MarkerSuffix = "0101"
	status, err := NewDecoder(RevisionA).Decode(blob.String(), nil, 8)
	require.NoError(t, err)
	require.Equal(t, 120, status.Marker)
}

func TestDecodeRevisionB(t *testing.T) {
	blob := fakepanel.RevisionB()
	blob.Open = []int{9}
	blob.Commands = []int{1, 10}
	blob.Modules = map[int][2]byte{
		1: {0x07, 0x00},
		2: {0x00, 0x07},
		3: {0x05, 0x00},
	}

	for _, rev := range []Revision{RevisionB, RevisionAuto} {
		t.Run(rev.String(), func(t *testing.T) {
			status, err := NewDecoder(rev).Decode(blob.String(), []int{9, 10}, 8)
			require.NoError(t, err)
			require.Equal(t, RevisionB, status.Revision)
			require.Equal(t, blob.Marker(), status.Marker)

			zone, ok := status.Zone(9)
			require.True(t, ok)
			require.True(t, zone.Open)
			zone, ok = status.Zone(10)
			require.True(t, ok)
			require.False(t, zone.Open)

			for id, want := range map[int]bool{
				1: true, 2: false, 10: true, 80: false,
				145: true, 146: false, 147: false, 148: true, 150: false,
			} {
				on, ok := status.Command(id)
				require.True(t, ok, "command %d", id)
				require.Equal(t, want, on, "command %d", id)
			}
			_, ok = status.Command(149)
			require.False(t, ok, "unknown channel state must be left out")

			require.Len(t, status.Modules, 32)
			require.Equal(t, Module{Number: 1, FirstCommand: 145, A: ChannelOn, B: ChannelOff}, status.Modules[0])
			require.False(t, status.Modules[2].A.Known())
		})
	}
}

func TestDecodeRevisionBMarkerMismatch(t *testing.T) {
	blob := fakepanel.RevisionB()
	s := []byte(blob.String())
	copy(s[blob.Marker():], "000000")
	status, err := NewDecoder(RevisionB).Decode(string(s), nil, 8)
	require.NoError(t, err)
	require.Equal(t, blob.Marker(), status.Marker)
}

func TestDecodeAlarmStates(t *testing.T) {
	for b, want := range map[byte]string{
		0x08: "disarmed_gsm_excluded",
		0x0C: "disarmed",
		0x0D: "armed_with_delay",
		0x0E: "arming",
		0x8D: "pending",
		0x8C: "triggered",
		0x88: "triggered_gsm_excluded",
		0x42: "unknown(0x42)",
	} {
		blob := fakepanel.RevisionA()
		blob.Alarm = b
		status, err := NewDecoder(RevisionA).Decode(blob.String(), nil, 8)
		require.NoError(t, err)
		require.True(t, status.HasAlarm)
		require.Equal(t, want, status.Alarm.String())
	}
}

func TestParseAlarmState(t *testing.T) {
	require.Equal(t, AlarmTriggered, ParseAlarmState("8C"))
	require.True(t, ParseAlarmState("8C").Triggered())
	require.Equal(t, AlarmDisarmed, ParseAlarmState("0C"))
	require.True(t, ParseAlarmState("0C").Disarmed())
	require.False(t, ParseAlarmState("FF").Known())
	require.Equal(t, "unknown(0xFF)", ParseAlarmState("FF").String())
	require.Equal(t, AlarmUnknown, ParseAlarmState("zz"))
	require.Equal(t, AlarmUnknown, ParseAlarmState(""))
}

func TestDecodeGSMSignalOutOfRange(t *testing.T) {
	blob := fakepanel.RevisionA()
	blob.GSMSignal = 9
	blob.GSMOperator = 0xFF
	blob.GSMStatus = 0x05
	status, err := NewDecoder(RevisionA).Decode(blob.String(), nil, 8)
	require.NoError(t, err)
	require.True(t, status.GSM.Available)
	require.Zero(t, status.GSM.Bars)
	require.Zero(t, status.GSM.Percent)
	require.Equal(t, "unknown", status.GSM.Operator.String())
	require.Equal(t, "no_sim", status.GSM.Status.String())
	require.False(t, status.GSM.Status.OK())
}

func TestDecodeWithoutCatalog(t *testing.T) {
	status, err := NewDecoder(RevisionA).Decode(fakepanel.RevisionA().String(), nil, 0)
	require.NoError(t, err)
	require.Len(t, status.Zones, 199)
	require.Len(t, status.Areas, 8)
}

func TestDecodeCatalogZones(t *testing.T) {
	blob := fakepanel.RevisionA()
	blob.Open = []int{2}
	status, err := NewDecoder(RevisionA).Decode(blob.String(), []int{4, 2, 4, 0, 400}, 8)
	require.NoError(t, err)
	require.Len(t, status.Zones, 2)
	require.Equal(t, 2, status.Zones[0].Number)
	require.True(t, status.Zones[0].Open)
	require.Equal(t, 4, status.Zones[1].Number)
	_, ok := status.Zone(400)
	require.False(t, ok)
}

func TestDecodeLowercase(t *testing.T) {
	blob := fakepanel.RevisionA()
	blob.Open = []int{5, 6, 7, 8}
	status, err := NewDecoder(RevisionA).Decode(strings.ToLower(blob.String()), []int{5}, 8)
	require.NoError(t, err)
	require.True(t, status.Zones[0].Open)
}

func TestDecodeErrors(t *testing.T) {
	_, err := NewDecoder(RevisionAuto).Decode("", nil, 8)
	require.ErrorIs(t, err, ErrMissingStatus)

	_, err = NewDecoder(RevisionAuto).Decode("  ", nil, 8)
	require.ErrorIs(t, err, ErrMissingStatus)

	_, err = NewDecoder(RevisionA).Decode(strings.Repeat("0", 2000), nil, 8)
	require.ErrorIs(t, err, ErrMarkerNotFound)

	_, err = NewDecoder(RevisionB).Decode(strings.Repeat("0", 1000), nil, 8)
	require.ErrorIs(t, err, ErrMarkerNotFound)

	_, err = NewDecoder(RevisionAuto).Decode(strings.Repeat("0", 1000), nil, 8)
	require.ErrorIs(t, err, ErrMarkerNotFound)
}

func TestDecodeShortBuffers(t *testing.T) {
	for _, blob := range []fakepanel.Blob{fakepanel.RevisionA(), fakepanel.RevisionB()} {
		full := blob.String()
		for _, rev := range []Revision{RevisionAuto, RevisionA, RevisionB} {
			for n := 0; n <= len(full); n += 3 {
				dec := NewDecoder(rev)
				dec.Logger = logp.New(io.Discard)
				require.NotPanics(t, func() {
					_, _ = dec.Decode(full[:n], zoneRange(320), 16)
				}, "rev %s len %d", rev, n)
			}
		}
	}
}

func TestDecodeMarkerOnly(t *testing.T) {
	s := strings.Repeat("1", 64) + "FFFFFF0000"
	status, err := NewDecoder(RevisionA).Decode(s, zoneRange(8), 8)
	require.NoError(t, err)
	require.Equal(t, 64, status.Marker)
	require.True(t, status.HasAlarm)
	require.False(t, status.HasAnomaly)
	require.Empty(t, status.Zones)
}

func TestDecodeXML(t *testing.T) {
	blob := fakepanel.RevisionA()
	body := "<response><cd>17011A08331D</cd><si>" + blob.String() + "</si></response>"
	status, err := NewDecoder(RevisionAuto).DecodeXML([]byte(body), nil, 8)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, time.January, 23, 8, 51, 29, 0, time.Local), status.PanelTime)

	_, err = NewDecoder(RevisionAuto).DecodeXML([]byte("<response><cd>17011A08331D</cd></response>"), nil, 8)
	require.ErrorIs(t, err, ErrMissingStatus)

	_, err = NewDecoder(RevisionAuto).DecodeXML([]byte("<response><si>"), nil, 8)
	require.Error(t, err)
}

func TestParsePanelTime(t *testing.T) {
	_, err := ParsePanelTime("17011A0833")
	require.Error(t, err)
	_, err = ParsePanelTime("1F011A08331D")
	require.NoError(t, err)
	_, err = ParsePanelTime("32011A08331D")
	require.Error(t, err)
	_, err = ParsePanelTime("170D1A08331D")
	require.Error(t, err)
}
