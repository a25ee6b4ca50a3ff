package upstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
)

const (
	testSnapshot     = `{"SessionInfo":{"Name":"Race","SessionStatus":"Started"},"TimingData":{"Lines":{"1":{"NumberOfPitStops":0}}},"LapCount":{"CurrentLap":1}}`
	testPremiumToken = "premium-secret"
)

// fakeUpstream serves both hub variants from one httptest server.
type fakeUpstream struct {
	t      *testing.T
	server *httptest.Server

	// frames are written after the subscribe reply, one websocket message each.
	commonFrames  []string
	premiumFrames []string

	commonNegotiations  atomic.Int32
	premiumNegotiations atomic.Int32
	subscriptions       atomic.Value // last subscribe request body
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/signalr/negotiate", f.handleCommonNegotiate)
	mux.HandleFunc("/signalr/connect", f.handleCommonConnect)
	mux.HandleFunc("/signalrcore/negotiate", f.handlePremiumNegotiate)
	mux.HandleFunc("/signalrcore", f.handlePremiumConnect)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) commonURL() string  { return f.server.URL + "/signalr" }
func (f *fakeUpstream) premiumURL() string { return f.server.URL + "/signalrcore" }

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (f *fakeUpstream) handleCommonNegotiate(w http.ResponseWriter, r *http.Request) {
	f.commonNegotiations.Add(1)
	if r.Method != http.MethodGet || r.URL.Query().Get("clientProtocol") != "1.5" {
		http.Error(w, "bad negotiate", http.StatusBadRequest)
		return
	}
	w.Header().Add("Set-Cookie", "GCLB=abc; Path=/; HttpOnly")
	w.Header().Add("Set-Cookie", "ARRAffinity=xyz; Secure")
	_, _ = w.Write([]byte(`{"ConnectionToken":"tok-common","ConnectionId":"c-1"}`))
}

func (f *fakeUpstream) handleCommonConnect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("connectionToken") != "tok-common" {
		http.Error(w, "bad token", http.StatusBadRequest)
		return
	}
	if !strings.Contains(r.Header.Get("Cookie"), "GCLB=abc; ARRAffinity=xyz") {
		http.Error(w, "missing cookie", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"C":"d-1","S":1,"M":[]}`))

	_, sub, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.subscriptions.Store(string(sub))

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"R":`+testSnapshot+`,"I":"1"}`))
	for _, frame := range f.commonFrames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}
	drain(conn)
}

func (f *fakeUpstream) handlePremiumNegotiate(w http.ResponseWriter, r *http.Request) {
	f.premiumNegotiations.Add(1)
	if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer "+testPremiumToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Add("Set-Cookie", "AWSALB=lb1; Path=/")
	_, _ = w.Write([]byte(`{"negotiateVersion":1,"connectionId":"p-1","connectionToken":"tok-premium"}`))
}

func (f *fakeUpstream) handlePremiumConnect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("id") != "tok-premium" || r.Header.Get("Authorization") != "Bearer "+testPremiumToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, hs, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(hs), `"protocol":"json"`) {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, []byte("{}\x1e"))

	_, inv, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.subscriptions.Store(string(inv))

	var req hubRecord
	if err := json.Unmarshal([]byte(strings.TrimSuffix(string(inv), "\x1e")), &req); err != nil {
		return
	}

	completion := `{"type":3,"invocationId":"` + req.InvocationID + `","result":` + testSnapshot + `}` + "\x1e" +
		`{"type":1,"target":"feed","arguments":["LapCount",{"CurrentLap":2},"2024-03-02T15:04:05.000Z"]}` + "\x1e"
	_ = conn.WriteMessage(websocket.TextMessage, []byte(completion))

	for _, frame := range f.premiumFrames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
	}
	drain(conn)
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
