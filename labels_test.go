package combivox

import (
	"bytes"
	"encoding/hex"
	"testing"

	logp "github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func hexOf(s string) string {
	return hex.EncodeToString([]byte(s))
}

func TestParseProgState(t *testing.T) {
	body := `<?xml version="1.0"?><response>` +
		`<a1>` + hexOf("Casa") + `</a1><a2></a2><a3>` + hexOf("  ") + `</a3><a4>` + hexOf("Garage") + `</a4>` +
		`<z1>` + hexOf("Portoncino") + `</z1><z2></z2><z10>` + hexOf("Cucina è") + `</z10><z11>zz</z11>` +
		`</response>`
	zones, areas, err := ParseProgState([]byte(body))
	require.NoError(t, err)
	require.Equal(t, []Label{{1, "Portoncino"}, {10, "Cucina è"}}, zones)
	require.Equal(t, []Label{{1, "Casa"}, {4, "Garage"}}, areas)

	_, _, err = ParseProgState([]byte("<response><z1>"))
	require.Error(t, err)
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList([]byte("<response><c0>3</c0><c1>1</c1><c2>x</c2><c3>3</c3><d0>9</d0></response>"))
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, ids)

	ids, err = ParseIDList([]byte("<response></response>"))
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestParseIndexedLabels(t *testing.T) {
	body := "<response><m1>" + hexOf("Uscita Totale") + "~1~2</m1><m3>" + hexOf("Notte") + "</m3><m4>nothex</m4></response>"
	labels := ParseIndexedLabels([]byte(body), []int{1, 2, 3, 4}, "Macro")
	require.Equal(t, []Label{
		{1, "Uscita Totale"},
		{2, "Macro 2"},
		{3, "Notte"},
		{4, "Macro 4"},
	}, labels)

	labels = ParseIndexedLabels([]byte("not xml <"), []int{7}, "Command")
	require.Equal(t, []Label{{7, "Command 7"}}, labels)
}

func TestLabelWarningsUseLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logp.New(&buf)

	zones, _, err := parseProgState(logger, []byte("<response><z1>zz</z1><z2>"+hexOf("Porta")+"</z2></response>"))
	require.NoError(t, err)
	require.Equal(t, []Label{{2, "Porta"}}, zones)
	require.Contains(t, buf.String(), "tag=z1")

	buf.Reset()
	labels := parseIndexedLabels(logger, []byte("<response><m1>nothex</m1></response>"), []int{1}, "Macro")
	require.Equal(t, []Label{{1, "Macro 1"}}, labels)
	require.Contains(t, buf.String(), "tag=m1")
}

func TestDecodeLabel(t *testing.T) {
	name, err := decodeLabel(hexOf("Luci") + "~0~1")
	require.NoError(t, err)
	require.Equal(t, "Luci", name)

	name, err = decodeLabel(hexOf("Sala") + "0000")
	require.NoError(t, err)
	require.Equal(t, "Sala", name)

	_, err = decodeLabel("abc")
	require.Error(t, err)
	_, err = decodeLabel("ff")
	require.Error(t, err)
}

func TestFirstValue(t *testing.T) {
	v, ok := FirstValue([]byte("<response><c0> 6 </c0></response>"))
	require.True(t, ok)
	require.Equal(t, "6", v)

	_, ok = FirstValue([]byte("<response><c0></c0></response>"))
	require.False(t, ok)
}

func TestTrouble(t *testing.T) {
	require.Equal(t, "Panel tamper", Trouble(0).String())
	require.Equal(t, "GSM anomaly", Trouble(6).String())
	require.Equal(t, "Insufficient credit", Trouble(15).String())
	require.Equal(t, "Unknown trouble 16", Trouble(16).String())
}

func TestCatalog(t *testing.T) {
	cat := Catalog{
		Zones: []Label{{4, "Porta"}, {2, "Finestra"}},
		Areas: []Label{{1, "Casa"}, {3, "Garage"}},
	}
	require.Equal(t, []int{2, 4}, cat.ZoneIDs())
	require.Equal(t, 3, cat.AreaCount())
	require.Equal(t, "Porta", cat.ZoneName(4))
	require.Equal(t, "Zone 5", cat.ZoneName(5))
	require.Equal(t, "Macro 1", cat.MacroName(1))
	require.False(t, cat.Empty())
	require.True(t, Catalog{}.Empty())
	require.Equal(t, 8, Catalog{}.AreaCount())
	require.Equal(t, 16, Catalog{Areas: []Label{{20, "x"}}}.AreaCount())

	other := cat
	other.Zones = []Label{{4, "Porta"}, {2, "Finestra"}}
	require.True(t, cat.Equal(other))
	other.Zones = []Label{{4, "Porta Nuova"}, {2, "Finestra"}}
	require.False(t, cat.Equal(other))
}

func TestParseDeviceInfo(t *testing.T) {
	for js, want := range map[string]string{
		`var vertype = "amica 64 gsm lte"; var typWeb = "Amicaweb";`: "Amica 64 LTE + AmicaWeb Plus",
		`var vertype='ELISA 12';var typWeb='smartweb2';`:             "Elisa 12 + SmartWeb",
		`var vertype = "AMICA 324 GSM";`:                              "Amica 324 GSM + AmicaWeb",
		`var vertype = "AMICA 64"; var typWeb = "other web";`:         "Amica 64 + Other Web",
	} {
		info, err := ParseDeviceInfo([]byte(js))
		require.NoError(t, err, js)
		require.Equal(t, want, info.Variant, js)
	}

	_, err := ParseDeviceInfo([]byte("var foo = 1;"))
	require.Error(t, err)
}
