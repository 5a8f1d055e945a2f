package rspamd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/relayd/internal/spamcheck"
)

func TestNewChecker(t *testing.T) {
	checker := NewChecker("http://localhost:11333", "secret", 10*time.Second)

	if checker.baseURL != "http://localhost:11333" {
		t.Errorf("expected baseURL http://localhost:11333, got %s", checker.baseURL)
	}
	if checker.password != "secret" {
		t.Errorf("expected password secret, got %s", checker.password)
	}
	if checker.httpClient.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", checker.httpClient.Timeout)
	}
}

func TestNewChecker_TrimsTrailingSlash(t *testing.T) {
	checker := NewChecker("http://localhost:11333/", "", 10*time.Second)

	if checker.baseURL != "http://localhost:11333" {
		t.Errorf("expected baseURL without trailing slash, got %s", checker.baseURL)
	}
}

func TestChecker_Name(t *testing.T) {
	checker := NewChecker("http://localhost:11333", "", 10*time.Second)
	if checker.Name() != "rspamd" {
		t.Errorf("expected name 'rspamd', got %s", checker.Name())
	}
}

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name           string
		response       RspamdResult
		statusCode     int
		wantErr        bool
		expectedAction spamcheck.Action
	}{
		{
			name:           "clean text",
			response:       RspamdResult{Score: 0.5, RequiredScore: 15, Action: RspamdActionNoAction},
			statusCode:     http.StatusOK,
			expectedAction: spamcheck.ActionAccept,
		},
		{
			name:           "spam text",
			response:       RspamdResult{Score: 20.5, RequiredScore: 15, Action: RspamdActionReject, IsSpam: true},
			statusCode:     http.StatusOK,
			expectedAction: spamcheck.ActionReject,
		},
		{
			name:           "greylist",
			response:       RspamdResult{Score: 5, Action: RspamdActionGreylist},
			statusCode:     http.StatusOK,
			expectedAction: spamcheck.ActionTempFail,
		},
		{
			name:           "soft reject",
			response:       RspamdResult{Score: 10, Action: RspamdActionSoftReject},
			statusCode:     http.StatusOK,
			expectedAction: spamcheck.ActionTempFail,
		},
		{
			name:           "add header",
			response:       RspamdResult{Score: 7, Action: RspamdActionAddHeader},
			statusCode:     http.StatusOK,
			expectedAction: spamcheck.ActionFlag,
		},
		{
			name:           "rewrite subject",
			response:       RspamdResult{Score: 8, Action: RspamdActionRewriteSubject},
			statusCode:     http.StatusOK,
			expectedAction: spamcheck.ActionFlag,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/checkv2" {
					t.Errorf("expected path /checkv2, got %s", r.URL.Path)
				}
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				w.WriteHeader(tt.statusCode)
				if tt.statusCode == http.StatusOK {
					_ = json.NewEncoder(w).Encode(tt.response)
				}
			}))
			defer server.Close()

			checker := NewChecker(server.URL, "", 10*time.Second)
			result, err := checker.Check(context.Background(), strings.NewReader("body"), spamcheck.CheckOptions{})

			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Score != tt.response.Score {
				t.Errorf("expected score %v, got %v", tt.response.Score, result.Score)
			}
			if result.Action != tt.expectedAction {
				t.Errorf("expected action %v, got %v", tt.expectedAction, result.Action)
			}
			if result.CheckerName != "rspamd" {
				t.Errorf("expected checker name rspamd, got %s", result.CheckerName)
			}
		})
	}
}

func TestChecker_Check_RequestHeaders(t *testing.T) {
	var headers http.Header
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		_ = json.NewEncoder(w).Encode(RspamdResult{Action: RspamdActionNoAction})
	}))
	defer server.Close()

	checker := NewChecker(server.URL, "pw", 10*time.Second)
	opts := spamcheck.CheckOptions{From: "relay@example.com", User: "42", QueueID: "job-1", Recipients: 5}
	if _, err := checker.Check(context.Background(), strings.NewReader("payload"), opts); err != nil {
		t.Fatal(err)
	}

	want := map[string]string{
		"From":     "relay@example.com",
		"User":     "42",
		"Queue-Id": "job-1",
		"Password": "pw",
	}
	for k, v := range want {
		if got := headers.Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if body != "payload" {
		t.Errorf("body = %q", body)
	}
}

func TestChecker_Check_Symbols(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RspamdResult{
			Score:  12,
			Action: RspamdActionReject,
			Symbols: map[string]SymbolResult{
				"SHORT_URL":   {Name: "SHORT_URL", Score: 4},
				"BULK_SENDER": {Name: "BULK_SENDER", Score: 8},
			},
		})
	}))
	defer server.Close()

	checker := NewChecker(server.URL, "", 10*time.Second)
	result, err := checker.Check(context.Background(), strings.NewReader("x"), spamcheck.CheckOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(result.Symbols, []string{"BULK_SENDER", "SHORT_URL"}) {
		t.Errorf("symbols = %v", result.Symbols)
	}
	if result.RejectMessage == "" {
		t.Error("expected reject message")
	}
}

func TestChecker_Check_BadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	checker := NewChecker(server.URL, "", 10*time.Second)
	if _, err := checker.Check(context.Background(), strings.NewReader("x"), spamcheck.CheckOptions{}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestChecker_Ping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{
			name:       "success",
			statusCode: http.StatusOK,
			wantErr:    false,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/ping" {
					t.Errorf("expected path /ping, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			checker := NewChecker(server.URL, "", 10*time.Second)
			err := checker.Ping(context.Background())

			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestChecker_Close(t *testing.T) {
	checker := NewChecker("http://localhost:11333", "", 10*time.Second)
	err := checker.Close()
	if err != nil {
		t.Errorf("expected no error from Close(), got %v", err)
	}
}

func TestScreenerWithRspamd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		action := RspamdActionNoAction
		if strings.Contains(string(data), "FREE MONEY") {
			action = RspamdActionReject
		}
		_ = json.NewEncoder(w).Encode(RspamdResult{Score: 1, Action: action})
	}))
	defer server.Close()

	s := spamcheck.NewScreener(spamcheck.Config{Checker: NewChecker(server.URL, "", 10*time.Second)})
	if err := s.Screen(context.Background(), "meeting at 5", spamcheck.CheckOptions{}); err != nil {
		t.Errorf("clean message rejected: %v", err)
	}
	if err := s.Screen(context.Background(), "FREE MONEY", spamcheck.CheckOptions{}); err == nil {
		t.Error("expected spam message to be rejected")
	}
}
