package fakepanel

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

const cookieName = "SID"

// Request is a request the panel received.
type Request struct {
	Method  string
	Path    string
	Query   string
	Body    string
	Cookie  string
	Referer string
}

// Panel answers like the web interface of an Amica panel.
// Exported fields may be changed while the server runs, holding Lock.
type Panel struct {
	sync.Mutex

	Status    string
	PanelTime string

	// LoginStatus is the status code of login.cgi.
	LoginStatus int
	// CookieAfter is how many login2.cgi calls go unanswered before the
	// cookie is set. Negative never sets it.
	CookieAfter int
	// ExpiredAsHTML serves the login page instead of a 401 for requests
	// without a valid cookie.
	ExpiredAsHTML bool
	// StatusFailures is how many status9.xml requests fail with a 500.
	StatusFailures int
	// LabelFailures is how many label downloads fail with a 503.
	LabelFailures int

	Zones    map[int]string
	Areas    map[int]string
	Macros   map[int]string
	Commands map[int]string

	// MacroResult is the <nc> content of execChangeImp.xml.
	MacroResult  string
	DeviceScript string
	Trouble      string
	MemoryID     string
	MemoryLabel  string

	logins2  int
	sessions int
	cookie   string
	tokens   []string
	requests []Request
}

func New() *Panel {
	return &Panel{
		Status:       RevisionA().String(),
		PanelTime:    "17011A08331D",
		LoginStatus:  http.StatusOK,
		CookieAfter:  1,
		Zones:        map[int]string{},
		Areas:        map[int]string{},
		Macros:       map[int]string{},
		Commands:     map[int]string{},
		MacroResult:  "31",
		DeviceScript: `var vertype = "AMICA 64 GSM LTE"; var typWeb = "Amicaweb";`,
	}
}

// Start serves the panel until the test ends, returning its host and port.
func (p *Panel) Start(tb testing.TB) (string, string) {
	tb.Helper()
	srv := httptest.NewServer(p)
	tb.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		tb.Fatal(err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		tb.Fatal(err)
	}
	return host, port
}

// Expire invalidates the current session cookie.
func (p *Panel) Expire() {
	p.Lock()
	defer p.Unlock()
	p.cookie = ""
}

// Sessions is how many cookies were handed out.
func (p *Panel) Sessions() int {
	p.Lock()
	defer p.Unlock()
	return p.sessions
}

// Tokens are the Basic tokens sent to login.cgi.
func (p *Panel) Tokens() []string {
	p.Lock()
	defer p.Unlock()
	return append([]string{}, p.tokens...)
}

func (p *Panel) Requests() []Request {
	p.Lock()
	defer p.Unlock()
	return append([]Request{}, p.requests...)
}

// Last returns the last request to path, if any.
func (p *Panel) Last(path string) (Request, bool) {
	p.Lock()
	defer p.Unlock()
	for i := len(p.requests) - 1; i >= 0; i-- {
		if p.requests[i].Path == path {
			return p.requests[i], true
		}
	}
	return Request{}, false
}

func (p *Panel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	p.Lock()
	defer p.Unlock()

	p.requests = append(p.requests, Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Body:    string(body),
		Cookie:  r.Header.Get("Cookie"),
		Referer: r.Header.Get("Referer"),
	})

	switch r.URL.Path {
	case "/login.cgi":
		p.login(w, r, string(body))
		return
	case "/login2.cgi":
		p.login2(w)
		return
	}

	if ck, err := r.Cookie(cookieName); err != nil || p.cookie == "" || ck.Name+"="+ck.Value != p.cookie {
		if p.ExpiredAsHTML {
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<!DOCTYPE html><html><body>login</body></html>")
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.URL.Path {
	case "/status9.xml":
		if p.StatusFailures > 0 {
			p.StatusFailures--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeXML(w, fmt.Sprintf("<cd>%s</cd><si>%s</si>", p.PanelTime, p.Status))
	case "/reqProg.cgi":
		_, _ = io.WriteString(w, "ok")
	case "/labelProgStato.xml":
		if p.failLabels(w) {
			return
		}
		writeXML(w, tags("z", p.Zones, false)+tags("a", p.Areas, false))
	case "/numMacro.xml":
		writeXML(w, idTags(p.Macros))
	case "/numComandiProg.xml":
		writeXML(w, idTags(p.Commands))
	case "/labelMacro.xml":
		if p.failLabels(w) {
			return
		}
		writeXML(w, tags("m", p.Macros, true))
	case "/labelComandi.xml":
		if p.failLabels(w) {
			return
		}
		writeXML(w, tags("m", p.Commands, true))
	case "/execChangeImp.xml":
		writeXML(w, "<nc>"+p.MacroResult+"</nc>")
	case "/insAree.xml", "/execBypass.xml", "/execCmd.xml", "/execDelMem.xml":
		writeXML(w, "<ok>1</ok>")
	case "/jscript9.js":
		_, _ = io.WriteString(w, p.DeviceScript)
	case "/numTrouble.xml":
		writeXML(w, "<c0>"+p.Trouble+"</c0>")
	case "/numMemProg.xml":
		writeXML(w, "<c0>"+p.MemoryID+"</c0>")
	case "/labelMem.xml":
		writeXML(w, fmt.Sprintf("<m%s>%s</m%s>", p.MemoryID, hex.EncodeToString([]byte(p.MemoryLabel)), p.MemoryID))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *Panel) login(w http.ResponseWriter, r *http.Request, body string) {
	form, _ := url.ParseQuery(body)
	token := form.Get("Basic")
	if token == "" || r.URL.RawQuery != "Basic%20"+token {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := base64.StdEncoding.DecodeString(token); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	p.tokens = append(p.tokens, token)
	p.logins2 = 0
	w.WriteHeader(p.LoginStatus)
}

func (p *Panel) login2(w http.ResponseWriter) {
	p.logins2++
	if p.CookieAfter < 0 || p.logins2 <= p.CookieAfter {
		return
	}
	p.sessions++
	value := strconv.Itoa(p.sessions)
	p.cookie = cookieName + "=" + value
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: value, Path: "/"})
}

func (p *Panel) failLabels(w http.ResponseWriter) bool {
	if p.LabelFailures <= 0 {
		return false
	}
	p.LabelFailures--
	w.WriteHeader(http.StatusServiceUnavailable)
	return true
}

func writeXML(w http.ResponseWriter, inner string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><response>`+inner+"</response>")
}

func sortedIDs(m map[int]string) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func tags(prefix string, m map[int]string, suffix bool) string {
	var sb strings.Builder
	for _, id := range sortedIDs(m) {
		label := hex.EncodeToString([]byte(m[id]))
		if suffix {
			label += "~0~1"
		}
		fmt.Fprintf(&sb, "<%s%d>%s</%s%d>", prefix, id, label, prefix, id)
	}
	return sb.String()
}

func idTags(m map[int]string) string {
	var sb strings.Builder
	for i, id := range sortedIDs(m) {
		fmt.Fprintf(&sb, "<c%d>%d</c%d>", i, id, i)
	}
	return sb.String()
}
