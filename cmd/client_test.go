package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/config"
)

// ─── baseURL ──────────────────────────────────────────────────────────────

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		":3001":          "http://localhost:3001",
		"0.0.0.0:8080":   "http://localhost:8080",
		"127.0.0.1:3001": "http://127.0.0.1:3001",
		"[::]:3001":      "http://localhost:3001",
		"gateway":        "http://gateway",
	}
	for addr, want := range tests {
		if got := baseURL(addr); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", addr, got, want)
		}
	}
}

func TestNewAPIClient_TokenFromDotEnv(t *testing.T) {
	t.Setenv(tokenEnv, "")
	os.Unsetenv(tokenEnv)
	prev := apiToken
	apiToken = ""
	t.Cleanup(func() { apiToken = prev })

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte(tokenEnv+"=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	if got := newAPIClient(&cfg).token; got != "from-dotenv" {
		t.Errorf("token = %q, want value from .env", got)
	}

	apiToken = "from-flag"
	if got := newAPIClient(&cfg).token; got != "from-flag" {
		t.Errorf("--token should win, got %q", got)
	}
}

// ─── apiClient ────────────────────────────────────────────────────────────

func TestAPIClient_DoSendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		fmt.Fprint(w, `{"cancelled":true}`)
	}))
	defer ts.Close()

	c := &apiClient{base: ts.URL, token: "tok", http: ts.Client()}
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := c.post(context.Background(), "/api/broadcast/cancel", map[string]string{}, &out); err != nil {
		t.Fatalf("post: %v", err)
	}
	if !out.Cancelled {
		t.Error("expected decoded body")
	}
	if gotAuth != "Bearer tok" || gotType != "application/json" {
		t.Errorf("headers: auth=%q type=%q", gotAuth, gotType)
	}
}

func TestAPIClient_ErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"whatsapp client is not ready"}`)
	}))
	defer ts.Close()

	c := &apiClient{base: ts.URL, http: ts.Client()}
	err := c.get(context.Background(), "/x", nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "whatsapp client is not ready" {
		t.Errorf("got %+v", apiErr)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	c := &apiClient{base: "http://127.0.0.1:1", http: &http.Client{Timeout: time.Second}}
	if err := c.get(context.Background(), "/x", nil); err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("got %v", err)
	}
}

func TestAPIClient_Stream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"start\",\"total\":2}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"type\":\"finish\",\"total\":2,\"sent\":2}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"never\"}\n\n")
	}))
	defer ts.Close()

	c := &apiClient{base: ts.URL, http: ts.Client()}
	var kinds []string
	err := c.stream(context.Background(), "/events", func(frame map[string]any) error {
		kinds = append(kinds, frame["type"].(string))
		if frame["type"] == "finish" {
			return errStopStream
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(kinds, ",") != "start,finish" {
		t.Errorf("kinds = %v", kinds)
	}
}

// ─── output ───────────────────────────────────────────────────────────────

func TestTable_AlignsStyledCells(t *testing.T) {
	out := table([]string{"ID", "Status"}, [][]string{
		{"1", okStyle.Render("ok")},
		{"100", "failed"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	col := func(line string) int {
		// Width of everything before the second column.
		plain := stripANSI(line)
		return strings.Index(plain, strings.Fields(plain)[1])
	}
	if col(lines[1]) != col(lines[2]) {
		t.Errorf("misaligned:\n%s", out)
	}
	if lipgloss.Width(lines[1]) > lipgloss.Width(lines[2]) {
		t.Errorf("styled row wider than plain row:\n%s", out)
	}
}

func stripANSI(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEsc = true
		case inEsc && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z'):
			inEsc = false
		case !inEsc:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func TestSummaryFilterCell_PrefersTitles(t *testing.T) {
	country, event := int64(3), int64(9)
	s := broadcast.Summary{
		Filters: broadcast.Filters{CountryID: &country, EventID: &event},
		Country: &broadcast.FilterRef{ID: 3, Title: "Indonesia"},
	}
	if got := stripANSI(summaryFilterCell(s)); got != "country=Indonesia event=9" {
		t.Errorf("got %q", got)
	}
	if got := stripANSI(summaryFilterCell(broadcast.Summary{})); got != "all" {
		t.Errorf("got %q", got)
	}
}

func TestTruncStr(t *testing.T) {
	if got := truncStr("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncStr("héllo world", 5); got != "héll…" {
		t.Errorf("got %q", got)
	}
}

// ─── campaigns ────────────────────────────────────────────────────────────

func TestBuildCampaign(t *testing.T) {
	reset := func() {
		sendMessage, sendMediaURL, sendMediaPath, sendMediaFile = "", "", "", ""
		sendCountry, sendEvent = 0, 0
	}
	t.Cleanup(reset)

	reset()
	if _, err := buildCampaign(); err == nil {
		t.Error("expected error without message or media")
	}

	reset()
	sendMessage, sendCountry = "hi", 4
	c, err := buildCampaign()
	if err != nil || c.CountryID == nil || *c.CountryID != 4 || c.EventID != nil {
		t.Errorf("got %+v, %v", c, err)
	}

	reset()
	path := filepath.Join(t.TempDir(), "promo.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatal(err)
	}
	sendMediaFile = path
	c, err = buildCampaign()
	if err != nil {
		t.Fatalf("buildCampaign: %v", err)
	}
	if c.Media == nil || c.Media.Buffer != "iVBORw==" || c.Media.Filename != "promo.png" || c.Media.Mimetype != "image/png" {
		t.Errorf("media = %+v", c.Media)
	}
}
