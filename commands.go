package combivox

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	pathLogin        = "/login.cgi"
	pathLogin2       = "/login2.cgi"
	pathStatus       = "/status9.xml"
	pathArm          = "/insAree.xml"
	pathBypass       = "/execBypass.xml"
	pathMacro        = "/execChangeImp.xml?id=2"
	pathOutput       = "/execCmd.xml"
	pathClearMemory  = "/execDelMem.xml"
	pathProgTrigger  = "/reqProg.cgi?id=9"
	pathProgState    = "/labelProgStato.xml"
	pathMacroIDs     = "/numMacro.xml"
	pathMacroLabels  = "/labelMacro.xml"
	pathCmdTrigger   = "/reqProg.cgi?id=4&idc=49"
	pathCommandIDs   = "/numComandiProg.xml"
	pathCmdLabels    = "/labelComandi.xml"
	pathDeviceScript = "/jscript9.js"
	pathTrouble      = "/numTrouble.xml"
	pathMemoryIDs    = "/numMemProg.xml"
	pathMemoryLabels = "/labelMem.xml"

	refererOutputs = "/index.htm?id=6"
	refererMacros  = "/index.htm?id=2"

	// idc is the fixed client id the web pages send along every command.
	idc = "49"

	macroOK = 31
)

// ArmMode is the fIns value of an arm request.
type ArmMode int

const (
	ArmNormal    ArmMode = 0
	ArmForced    ArmMode = 1
	ArmImmediate ArmMode = 2
)

func (m ArmMode) String() string {
	switch m {
	case ArmNormal:
		return "normal"
	case ArmForced:
		return "forced"
	case ArmImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ParseArmMode parses "normal", "forced" or "immediate".
func ParseArmMode(s string) (ArmMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ArmNormal, nil
	case "forced":
		return ArmForced, nil
	case "immediate":
		return ArmImmediate, nil
	default:
		return ArmNormal, fmt.Errorf("invalid arm mode: %q", s)
	}
}

// AreaMask sets bit n-1 for each area n in 1..count. Areas out of range
// are ignored.
func AreaMask(areas []int, count int) uint16 {
	count = min(max(count, 0), 16)
	var mask uint16
	for _, a := range areas {
		if a >= 1 && a <= count {
			mask |= 1 << (a - 1)
		}
	}
	return mask
}

// MaskAreas lists the areas set in mask.
func MaskAreas(mask uint16) []int {
	areas := []int{}
	for i := 0; i < 16; i++ {
		if mask&(1<<i) > 0 {
			areas = append(areas, i+1)
		}
	}
	return areas
}

// DisarmMask is the mask to re-arm after disarming requested out of armed.
// Disarming no areas disarms them all.
func DisarmMask(armed, requested []int, count int) uint16 {
	if len(requested) == 0 {
		return 0
	}
	return AreaMask(armed, count) &^ AreaMask(requested, count)
}

func armPayload(mask uint16, mode ArmMode) string {
	return fmt.Sprintf("bIns0=%d&idc=%s&fIns=%d", mask, idc, int(mode))
}

func bypassPayload(zone int) string {
	return fmt.Sprintf("nCmd=%d&idc=%s", zone, idc)
}

func macroPayload(id int, code string) string {
	return fmt.Sprintf("comandi=%d;%s;%s;", id, idc, code)
}

func outputPayload(id int, on bool) string {
	val := 0
	if on {
		val = 7
	}
	return fmt.Sprintf("nCmd=%d&idc=%s&val=%d", id, idc, val)
}

func clearMemoryPayload() string {
	return "comandi=del"
}

func loginPayload(token string) string {
	return url.Values{"Basic": {token}}.Encode()
}

func loginPath(path, token string) string {
	return path + "?Basic%20" + token
}

func listPayload(ids []int) string {
	var sb strings.Builder
	sb.WriteString("comandi=")
	for _, id := range ids {
		sb.WriteString(strconv.Itoa(id))
		sb.WriteByte(';')
	}
	return sb.String()
}

type macroResult struct {
	NC string `xml:"nc"`
}

// parseMacroResult checks the <nc> reply of execChangeImp.xml.
func parseMacroResult(body []byte) error {
	var res macroResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("%w: could not parse macro reply: %v", ErrCommandRejected, err)
	}
	nc, err := strconv.Atoi(strings.TrimSpace(res.NC))
	if err != nil || nc != macroOK {
		return fmt.Errorf("%w: macro reply nc=%q", ErrCommandRejected, res.NC)
	}
	return nil
}
