package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type fakeCredential struct {
	token *oauth2.Token
	err   error
	calls int
}

func (f *fakeCredential) GetToken(ctx context.Context, scope string) (*oauth2.Token, error) {
	f.calls++
	return f.token, f.err
}

func validToken(v string) *oauth2.Token {
	return &oauth2.Token{AccessToken: v, TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
}

func resolverFor(ambient func() (Credential, error), interactive *fakeCredential, interactiveBuilt *bool) Resolver {
	return Resolver{
		Scope:   DefaultScope,
		Ambient: ambient,
		Interactive: func() (Credential, error) {
			*interactiveBuilt = true
			return interactive, nil
		},
	}
}

func TestResolve_UsesAmbientWhenValid(t *testing.T) {
	ambient := &fakeCredential{token: validToken("ambient")}
	interactive := &fakeCredential{token: validToken("interactive")}
	var built bool
	r := resolverFor(func() (Credential, error) { return ambient, nil }, interactive, &built)

	cred, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() err=%v", err)
	}
	if cred != Credential(ambient) {
		t.Fatalf("Resolve() returned %T, want ambient credential", cred)
	}
	if built || interactive.calls != 0 {
		t.Fatalf("interactive credential used although ambient succeeded")
	}
	if ambient.calls != 1 {
		t.Fatalf("ambient calls=%d, want 1 validation request", ambient.calls)
	}
}

func TestResolve_FallsBackToInteractive(t *testing.T) {
	cases := map[string]func() (Credential, error){
		"not configured": func() (Credential, error) { return nil, ErrNoAmbientCredential },
		"token error": func() (Credential, error) {
			return &fakeCredential{err: errors.New("network unreachable")}, nil
		},
		"expired token": func() (Credential, error) {
			return &fakeCredential{token: &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}}, nil
		},
	}
	for name, ambient := range cases {
		t.Run(name, func(t *testing.T) {
			interactive := &fakeCredential{token: validToken("interactive")}
			var built bool
			r := resolverFor(ambient, interactive, &built)

			cred, err := r.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve() err=%v", err)
			}
			if cred != Credential(interactive) {
				t.Fatalf("Resolve() returned %T, want interactive credential", cred)
			}
			if !built || interactive.calls != 1 {
				t.Fatalf("interactive built=%v calls=%d, want one login", built, interactive.calls)
			}
		})
	}
}

func TestResolve_InteractiveFailureSurfaces(t *testing.T) {
	interactive := &fakeCredential{err: ErrInteractiveCancelled}
	var built bool
	r := resolverFor(func() (Credential, error) { return nil, ErrNoAmbientCredential }, interactive, &built)

	cred, err := r.Resolve(context.Background())
	if cred != nil {
		t.Fatalf("Resolve() returned credential on failure")
	}
	if !errors.Is(err, ErrInteractiveCancelled) {
		t.Fatalf("Resolve() err=%v, want ErrInteractiveCancelled", err)
	}
}

func TestTokenSource_AdaptsCredential(t *testing.T) {
	cred := &fakeCredential{token: validToken("abc")}
	ts := TokenSource(context.Background(), cred, DefaultScope)
	for i := 0; i < 3; i++ {
		tok, err := ts.Token()
		if err != nil {
			t.Fatalf("Token() err=%v", err)
		}
		if tok.AccessToken != "abc" {
			t.Fatalf("AccessToken=%q, want abc", tok.AccessToken)
		}
	}
	if cred.calls != 1 {
		t.Fatalf("calls=%d, want 1 (token reused while valid)", cred.calls)
	}
}

func TestResolve_RejectsEmptyInteractiveToken(t *testing.T) {
	cases := map[string]*oauth2.Token{
		"nil":     nil,
		"empty":   {AccessToken: "", Expiry: time.Now().Add(time.Hour)},
		"expired": {AccessToken: "old", Expiry: time.Now().Add(-time.Hour)},
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			interactive := &fakeCredential{token: tok}
			var built bool
			r := resolverFor(func() (Credential, error) { return nil, ErrNoAmbientCredential }, interactive, &built)

			cred, err := r.Resolve(context.Background())
			if err == nil || cred != nil {
				t.Fatalf("Resolve()=(%v, %v), want error", cred, err)
			}
		})
	}
}
