package sharepoint

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// GraphScope is the OAuth scope for application access to Microsoft Graph.
const GraphScope = "https://graph.microsoft.com/.default"

// TokenSource yields bearer tokens for Graph requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, useful for tests and short scripts.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

type credentialSource struct {
	cred azcore.TokenCredential
}

// NewCredentialTokenSource adapts any Azure credential. The credential caches
// and refreshes tokens itself.
func NewCredentialTokenSource(cred azcore.TokenCredential) TokenSource {
	return &credentialSource{cred: cred}
}

// NewClientSecretTokenSource authenticates an app registration with a client secret.
func NewClientSecretTokenSource(tenantID, clientID, clientSecret string) (TokenSource, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("create client secret credential: %w", err)
	}
	return NewCredentialTokenSource(cred), nil
}

func (c *credentialSource) Token(ctx context.Context) (string, error) {
	tok, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{GraphScope}})
	if err != nil {
		return "", fmt.Errorf("get graph token: %w", err)
	}
	return tok.Token, nil
}
