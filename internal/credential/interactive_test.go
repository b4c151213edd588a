package credential

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeIdP struct {
	srv *httptest.Server

	mu           sync.Mutex
	grants       []string
	sawVerifiers []string
}

func (idp *fakeIdP) snapshot() (grants, verifiers []string) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	return append([]string(nil), idp.grants...), append([]string(nil), idp.sawVerifiers...)
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                idp.srv.URL,
			"authorization_endpoint":                idp.srv.URL + "/authorize",
			"token_endpoint":                        idp.srv.URL + "/token",
			"jwks_uri":                              idp.srv.URL + "/keys",
			"response_types_supported":              []string{"code"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		grant := r.PostForm.Get("grant_type")
		idp.mu.Lock()
		idp.grants = append(idp.grants, grant)
		if grant == "authorization_code" {
			idp.sawVerifiers = append(idp.sawVerifiers, r.PostForm.Get("code_verifier"))
		}
		idp.mu.Unlock()
		if grant == "authorization_code" && r.PostForm.Get("code") != "the-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"interactive-token","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`)
	})
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

// redirectBack plays the browser: it follows the authorization URL straight
// back to the loopback listener.
func redirectBack(t *testing.T, opened *int, overrideState string) func(string) error {
	return func(authURL string) error {
		*opened++
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
			t.Errorf("authorization URL missing PKCE challenge: %s", authURL)
		}
		state := q.Get("state")
		if overrideState != "" {
			state = overrideState
		}
		redirect := q.Get("redirect_uri")
		if !strings.HasPrefix(redirect, "http://127.0.0.1:") {
			t.Errorf("redirect_uri=%q, want the 127.0.0.1 loopback listener", redirect)
		}
		resp, err := http.Get(redirect + "?code=the-code&state=" + url.QueryEscape(state))
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

func TestInteractiveCredential_LoginAndRefresh(t *testing.T) {
	idp := newFakeIdP(t)
	var opened int
	cred, err := NewInteractiveCredential(InteractiveOptions{
		Issuer:       idp.srv.URL,
		ClientID:     "wsctl-cli",
		LoginTimeout: 10 * time.Second,
		OpenURL:      redirectBack(t, &opened, ""),
		Prompt:       io.Discard,
		HTTPClient:   idp.srv.Client(),
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewInteractiveCredential() err=%v", err)
	}

	ctx := context.Background()
	tok, err := cred.GetToken(ctx, DefaultScope)
	if err != nil {
		t.Fatalf("GetToken() err=%v", err)
	}
	if tok.AccessToken != "interactive-token" {
		t.Fatalf("AccessToken=%q, want interactive-token", tok.AccessToken)
	}
	if _, verifiers := idp.snapshot(); len(verifiers) != 1 || verifiers[0] == "" {
		t.Fatalf("code_verifier not sent on exchange: %v", verifiers)
	}

	if _, err := cred.GetToken(ctx, DefaultScope); err != nil {
		t.Fatalf("cached GetToken() err=%v", err)
	}
	if _, err := cred.GetToken(ctx, "https://storage.mlplatform.dev/.default"); err != nil {
		t.Fatalf("other scope GetToken() err=%v", err)
	}
	if opened != 1 {
		t.Fatalf("browser opened %d times, want 1", opened)
	}
	grants, _ := idp.snapshot()
	if want := []string{"authorization_code", "refresh_token"}; strings.Join(grants, ",") != strings.Join(want, ",") {
		t.Fatalf("grants=%v, want %v", grants, want)
	}
}

func TestInteractiveCredential_StateMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	var opened int
	cred, err := NewInteractiveCredential(InteractiveOptions{
		Issuer:       idp.srv.URL,
		ClientID:     "wsctl-cli",
		LoginTimeout: 10 * time.Second,
		OpenURL:      redirectBack(t, &opened, "forged"),
		Prompt:       io.Discard,
		HTTPClient:   idp.srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewInteractiveCredential() err=%v", err)
	}
	if _, err := cred.GetToken(context.Background(), DefaultScope); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("GetToken() err=%v, want ErrStateMismatch", err)
	}
}

func TestInteractiveCredential_TimesOut(t *testing.T) {
	idp := newFakeIdP(t)
	cred, err := NewInteractiveCredential(InteractiveOptions{
		Issuer:       idp.srv.URL,
		ClientID:     "wsctl-cli",
		LoginTimeout: 50 * time.Millisecond,
		OpenURL:      func(string) error { return errors.New("no browser") },
		Prompt:       io.Discard,
		HTTPClient:   idp.srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewInteractiveCredential() err=%v", err)
	}
	if _, err := cred.GetToken(context.Background(), DefaultScope); !errors.Is(err, ErrInteractiveCancelled) {
		t.Fatalf("GetToken() err=%v, want ErrInteractiveCancelled", err)
	}
}
