// Package oauth provides OAuth 2.1 types and utilities. No other package in
// this module imports it.
//
// # Core Components
//
//   - Token: OAuth token representation with expiry checking
//   - Metadata: OAuth/OIDC server metadata (RFC 8414)
//   - AuthChallenge: Parsed WWW-Authenticate header information
//   - PKCE: Proof Key for Code Exchange generation (RFC 7636)
//   - Client: OAuth client for metadata discovery and token operations
//
// # Usage
//
// Parsing a challenge and generating PKCE values:
//
//	import "skein/pkg/oauth"
//
//	challenge, err := oauth.ParseWWWAuthenticate(header)
//	pkce, err := oauth.GeneratePKCE()
//
// Discovering server metadata:
//
//	client := oauth.NewClient(oauth.WithHTTPClient(httpClient), oauth.WithLogger(logger))
//	metadata, err := client.DiscoverMetadata(ctx, issuer)
package oauth
