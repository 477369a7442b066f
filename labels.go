package combivox

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	logp "github.com/charmbracelet/log"
	"golang.org/x/exp/slices"
)

// Label is a named panel object: a zone, area, macro or command.
type Label struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Catalog is the set of objects programmed on the panel.
type Catalog struct {
	Zones    []Label `yaml:"zones"`
	Areas    []Label `yaml:"areas"`
	Macros   []Label `yaml:"macros"`
	Commands []Label `yaml:"commands"`
}

// ZoneIDs returns the sorted zone numbers.
func (c Catalog) ZoneIDs() []int {
	return ids(c.Zones)
}

// AreaCount is the highest configured area number, 8 when there are none.
func (c Catalog) AreaCount() int {
	n := 0
	for _, a := range c.Areas {
		n = max(n, a.ID)
	}
	if n == 0 {
		return 8
	}
	return min(n, 16)
}

func (c Catalog) Empty() bool {
	return len(c.Zones) == 0 && len(c.Areas) == 0 && len(c.Macros) == 0 && len(c.Commands) == 0
}

// Equal reports whether both catalogs describe the same objects.
func (c Catalog) Equal(o Catalog) bool {
	return slices.Equal(c.Zones, o.Zones) &&
		slices.Equal(c.Areas, o.Areas) &&
		slices.Equal(c.Macros, o.Macros) &&
		slices.Equal(c.Commands, o.Commands)
}

func (c Catalog) ZoneName(id int) string { return labelName(c.Zones, id, "Zone") }
func (c Catalog) AreaName(id int) string { return labelName(c.Areas, id, "Area") }
func (c Catalog) MacroName(id int) string { return labelName(c.Macros, id, "Macro") }
func (c Catalog) CommandName(id int) string { return labelName(c.Commands, id, "Command") }

func labelName(labels []Label, id int, kind string) string {
	for _, l := range labels {
		if l.ID == id && l.Name != "" {
			return l.Name
		}
	}
	return fmt.Sprintf("%s %d", kind, id)
}

func ids(labels []Label) []int {
	result := make([]int, 0, len(labels))
	for _, l := range labels {
		result = append(result, l.ID)
	}
	slices.Sort(result)
	return slices.Compact(result)
}

func sortLabels(labels []Label) {
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i].ID < labels[j].ID
	})
}

// decodeLabel decodes an hex encoded UTF-8 label, dropping anything after
// the first "~".
func decodeLabel(s string) (string, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '~'); i >= 0 {
		s = s[:i]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("could not decode label %q: %w", s, err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("could not decode label %q: invalid utf-8", s)
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// elements returns the text of each direct child of the document root.
func elements(body []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	result := map[string]string{}
	depth := 0
	var current string
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return result, nil
			}
			return nil, fmt.Errorf("could not parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = t.Name.Local
				text.Reset()
			}
		case xml.CharData:
			if depth == 2 {
				text.Write(t)
			}
		case xml.EndElement:
			if depth == 2 {
				result[current] = strings.TrimSpace(text.String())
			}
			depth--
		}
	}
}

// indexed returns the labels of the children named prefix<N>.
// Tags that fail to decode are skipped, as are empty names when
// skipEmpty is set.
func indexed(logger *logp.Logger, elems map[string]string, prefix string, skipEmpty bool) []Label {
	var labels []Label
	for tag, text := range elems {
		id, ok := tagIndex(tag, prefix)
		if !ok || text == "" {
			continue
		}
		name, err := decodeLabel(text)
		if err != nil {
			logger.Warn("could not decode label", "tag", tag, "err", err)
			continue
		}
		if skipEmpty && strings.TrimSpace(name) == "" {
			continue
		}
		labels = append(labels, Label{ID: id, Name: name})
	}
	sortLabels(labels)
	return labels
}

func tagIndex(tag, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(tag, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ParseProgState parses labelProgStato.xml: zones in zN tags, areas in aN.
// Unnamed objects are not programmed and are left out.
func ParseProgState(body []byte) (zones, areas []Label, err error) {
	return parseProgState(log, body)
}

func parseProgState(logger *logp.Logger, body []byte) (zones, areas []Label, err error) {
	elems, err := elements(body)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse zones and areas: %w", err)
	}
	return indexed(logger, elems, "z", true), indexed(logger, elems, "a", true), nil
}

// ParseIDList parses the cN tags of numMacro.xml and numComandiProg.xml.
func ParseIDList(body []byte) ([]int, error) {
	elems, err := elements(body)
	if err != nil {
		return nil, fmt.Errorf("could not parse id list: %w", err)
	}
	var result []int
	for tag, text := range elems {
		if _, ok := tagIndex(tag, "c"); !ok {
			continue
		}
		id, err := strconv.Atoi(text)
		if err != nil {
			continue
		}
		result = append(result, id)
	}
	slices.Sort(result)
	return slices.Compact(result), nil
}

// ParseIndexedLabels parses labelMacro.xml and labelComandi.xml, whose
// children are named with a single letter and the object id. Ids without a
// usable label get the fallback name "<kind> <id>".
func ParseIndexedLabels(body []byte, want []int, kind string) []Label {
	return parseIndexedLabels(log, body, want, kind)
}

func parseIndexedLabels(logger *logp.Logger, body []byte, want []int, kind string) []Label {
	elems, err := elements(body)
	if err != nil {
		logger.Warn("could not parse labels", "kind", kind, "err", err)
		elems = map[string]string{}
	}
	found := map[int]string{}
	for tag, text := range elems {
		if len(tag) < 2 || text == "" {
			continue
		}
		id, ok := tagIndex(tag, tag[:1])
		if !ok {
			continue
		}
		name, err := decodeLabel(text)
		if err != nil {
			logger.Warn("could not decode label", "tag", tag, "err", err)
			continue
		}
		if strings.TrimSpace(name) != "" {
			found[id] = name
		}
	}
	return fallbackLabels(want, found, kind)
}

func fallbackLabels(want []int, found map[int]string, kind string) []Label {
	labels := make([]Label, 0, len(want))
	for _, id := range want {
		name, ok := found[id]
		if !ok {
			name = fmt.Sprintf("%s %d", kind, id)
		}
		labels = append(labels, Label{ID: id, Name: name})
	}
	sortLabels(labels)
	return labels
}

// FirstValue returns the content of the c0 tag, used by numTrouble.xml
// and numMemProg.xml.
func FirstValue(body []byte) (string, bool) {
	elems, err := elements(body)
	if err != nil {
		return "", false
	}
	v, ok := elems["c0"]
	return v, ok && v != ""
}

// Trouble is an active panel trouble from numTrouble.xml.
type Trouble int

var troubles = [...]string{
	"Panel tamper",
	"Panel network anomaly",
	"Panel fuse 1 failure",
	"Panel fuse 2 failure",
	"Panel fuse 3 failure",
	"Phone line absent",
	"GSM anomaly",
	"Panel battery anomaly",
	"Video battery anomaly",
	"Panel battery alarm",
	"Video battery alarm",
	"Panel system tamper",
	"Video system tamper",
	"SIM RF module anomaly",
	"SIM card expired",
	"Insufficient credit",
}

func (t Trouble) String() string {
	if t < 0 || int(t) >= len(troubles) {
		return fmt.Sprintf("Unknown trouble %d", int(t))
	}
	return troubles[t]
}

// MemoryEntry is one alarm memory log line.
type MemoryEntry struct {
	ID      string
	Message string
}

var (
	vertypeRe = regexp.MustCompile(`var\s+vertype\s*=\s*["']([^"']+)["']`)
	typWebRe  = regexp.MustCompile(`var\s+typWeb\s*=\s*["']([^"']+)["']`)
	amicaRe   = regexp.MustCompile(`\bAMICA\b`)
	elisaRe   = regexp.MustCompile(`\bELISA\b`)
	spacesRe  = regexp.MustCompile(`\s+`)
)

// DeviceInfo describes the panel model.
type DeviceInfo struct {
	Type    string
	Web     string
	Variant string
}

// ParseDeviceInfo extracts the panel model from jscript9.js.
func ParseDeviceInfo(js []byte) (DeviceInfo, error) {
	m := vertypeRe.FindSubmatch(js)
	if m == nil {
		return DeviceInfo{}, fmt.Errorf("could not find vertype")
	}
	vertype := strings.ToUpper(strings.TrimSpace(string(m[1])))
	vertype = amicaRe.ReplaceAllString(vertype, "Amica")
	vertype = elisaRe.ReplaceAllString(vertype, "Elisa")
	if strings.Contains(vertype, "LTE") && strings.Contains(vertype, "GSM") {
		vertype = strings.TrimSpace(spacesRe.ReplaceAllString(strings.ReplaceAll(vertype, "GSM", ""), " "))
	}

	web := "AmicaWeb"
	if m := typWebRe.FindSubmatch(js); m != nil {
		typWeb := strings.TrimSpace(string(m[1]))
		switch lower := strings.ToLower(typWeb); {
		case strings.Contains(lower, "amicaweb"):
			web = "AmicaWeb Plus"
		case strings.Contains(lower, "smartweb"):
			web = "SmartWeb"
		default:
			web = title(typWeb)
		}
	}

	return DeviceInfo{
		Type:    vertype,
		Web:     web,
		Variant: vertype + " + " + web,
	}, nil
}

func title(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
