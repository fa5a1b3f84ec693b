package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

// TestClientSessionNormalization tests that the origin's ways of saying
// "no session" all normalize to nil while real documents pass through.
func TestClientSessionNormalization(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string // "" means nil
	}{
		{"empty body", "", ""},
		{"json null", "null", ""},
		{"empty object", "{}", ""},
		{"whitespace object", "  {}  ", ""},
		{"active session", `{"user":{"name":"jo"},"expires":"2026-01-01T00:00:00Z"}`, `{"user":{"name":"jo"},"expires":"2026-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/session" {
					t.Errorf("Unexpected path %s", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(Config{BaseURL: server.URL}, nil)
			session, err := client.Session(context.Background())
			if err != nil {
				t.Fatalf("Session failed: %v", err)
			}

			if tt.want == "" {
				if session != nil {
					t.Errorf("Expected nil session, got %s", session)
				}
			} else if string(session) != tt.want {
				t.Errorf("Session = %s, want %s", session, tt.want)
			}
		})
	}
}

// TestClientSessionError tests the error shape for non-200 responses.
func TestClientSessionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	_, err := client.Session(context.Background())
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %T", err)
	}
	if fetchErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", fetchErr.Status)
	}
	if fetchErr.Endpoint != "/session" {
		t.Errorf("Endpoint = %q, want /session", fetchErr.Endpoint)
	}
}

// TestClientCSRFCaching tests that the token is fetched once and reused.
func TestClientCSRFCaching(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"csrfToken":"tok-1"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)

	for i := 0; i < 3; i++ {
		token, err := client.CSRF(context.Background())
		if err != nil {
			t.Fatalf("CSRF failed: %v", err)
		}
		if token != "tok-1" {
			t.Errorf("Token = %q", token)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("CSRF endpoint hit %d times, want 1", hits.Load())
	}
}

// TestClientSignIn tests the sign-in post: form encoding, automatic
// CSRF token, and result decoding.
func TestClientSignIn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csrf":
			w.Write([]byte(`{"csrfToken":"tok-1"}`))
		case "/signin/credentials":
			if r.Method != http.MethodPost {
				t.Errorf("Method = %s, want POST", r.Method)
			}
			if err := r.ParseForm(); err != nil {
				t.Fatalf("ParseForm failed: %v", err)
			}
			if r.PostForm.Get("csrfToken") != "tok-1" {
				t.Errorf("csrfToken = %q", r.PostForm.Get("csrfToken"))
			}
			if r.PostForm.Get("username") != "jo" {
				t.Errorf("username = %q", r.PostForm.Get("username"))
			}
			if r.PostForm.Get("json") != "true" {
				t.Errorf("json = %q", r.PostForm.Get("json"))
			}
			w.Write([]byte(`{"url":"/dashboard"}`))
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	res, err := client.SignIn(context.Background(), "credentials", url.Values{"username": {"jo"}})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !res.OK {
		t.Error("Expected OK result")
	}
	if res.URL != "/dashboard" {
		t.Errorf("URL = %q, want /dashboard", res.URL)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", res.Status)
	}
}

// TestClientSignInRejected tests that a rejected sign-in reports not-OK
// without an error.
func TestClientSignInRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csrf":
			w.Write([]byte(`{"csrfToken":"tok-1"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"url":"/login?error=CredentialsSignin"}`))
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	res, err := client.SignIn(context.Background(), "credentials", nil)
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if res.OK {
		t.Error("Expected not-OK result for 401")
	}
	if res.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", res.Status)
	}
}

// TestClientPostRetriesStaleCSRF tests the single retry after a 403.
func TestClientPostRetriesStaleCSRF(t *testing.T) {
	var csrfHits, postHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csrf":
			n := csrfHits.Add(1)
			if n == 1 {
				w.Write([]byte(`{"csrfToken":"stale"}`))
			} else {
				w.Write([]byte(`{"csrfToken":"fresh"}`))
			}
		case "/signout":
			postHits.Add(1)
			r.ParseForm()
			if r.PostForm.Get("csrfToken") != "fresh" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Write([]byte(`{"url":"/"}`))
		}
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	redirect, err := client.SignOut(context.Background())
	if err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if redirect != "/" {
		t.Errorf("Redirect = %q, want /", redirect)
	}
	if csrfHits.Load() != 2 {
		t.Errorf("CSRF fetched %d times, want 2", csrfHits.Load())
	}
	if postHits.Load() != 2 {
		t.Errorf("Sign-out posted %d times, want 2", postHits.Load())
	}
}

// TestClientProviders tests provider registry decoding.
func TestClientProviders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"credentials": {"id":"credentials","name":"Credentials","type":"credentials","signinUrl":"/api/auth/signin/credentials","callbackUrl":"/api/auth/callback/credentials"}
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, nil)
	providers, err := client.Providers(context.Background())
	if err != nil {
		t.Fatalf("Providers failed: %v", err)
	}
	p, ok := providers["credentials"]
	if !ok {
		t.Fatalf("Missing credentials provider: %v", providers)
	}
	if p.Name != "Credentials" || p.Type != "credentials" {
		t.Errorf("Unexpected provider %+v", p)
	}
}

// TestClientBaseURLResolution tests the config > env > default chain.
func TestClientBaseURLResolution(t *testing.T) {
	t.Setenv(EnvBaseURL, "")
	client := NewClient(Config{}, nil)
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want default", client.BaseURL())
	}

	t.Setenv(EnvBaseURL, "https://env.example.com/api/auth/")
	client = NewClient(Config{}, nil)
	if client.BaseURL() != "https://env.example.com/api/auth" {
		t.Errorf("BaseURL = %q, want env value without trailing slash", client.BaseURL())
	}

	client = NewClient(Config{BaseURL: "https://cfg.example.com/api/auth"}, nil)
	if client.BaseURL() != "https://cfg.example.com/api/auth" {
		t.Errorf("BaseURL = %q, want config value", client.BaseURL())
	}
}
