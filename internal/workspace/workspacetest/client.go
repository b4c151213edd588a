package workspacetest

import (
	"context"
	"testing"

	"github.com/animus-labs/wsctl/internal/credential"
	"github.com/animus-labs/wsctl/internal/workspace"
)

const Token = "workspacetest-token"

func Config() workspace.Config {
	return workspace.Config{
		SubscriptionID: SubscriptionID,
		ResourceGroup:  ResourceGroup,
		WorkspaceName:  WorkspaceName,
	}
}

// NewClient returns a workspace client pointed at s with a static bearer token.
func (s *Server) NewClient(t testing.TB) *workspace.Client {
	t.Helper()
	cred, err := credential.NewStaticTokenCredential(Token)
	if err != nil {
		t.Fatalf("static credential: %v", err)
	}
	client, err := workspace.New(context.Background(), Config(), cred, workspace.Options{
		Endpoint:  s.URL,
		Transport: s.Client().Transport,
	})
	if err != nil {
		t.Fatalf("workspace client: %v", err)
	}
	return client
}
