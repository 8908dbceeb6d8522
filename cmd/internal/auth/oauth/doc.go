// Package oauth signs users in through an external OAuth 2.0 provider.
//
// A Provider builds the consent URL and trades an authorization code for a
// Profile. Account linking and token issuance happen in the callers.
package oauth
