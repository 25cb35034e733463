// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package services

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fernet/fernet-go"
)

// AuthOptions configures request authentication. The service is fail-closed:
// with no key configured and no insecure escape hatch, every request is
// refused.
type AuthOptions struct {
	// static API key expected in Authorization / X-API-Key headers
	ApiKey string
	// base64 fernet key; when set, bearer tokens are fernet tokens
	FernetKey string
	// fernet token time-to-live
	TokenTtl time.Duration
	// disables authentication entirely (development only)
	AllowInsecureDev bool
}

// the authenticator constructed from AuthOptions at service startup
type authenticator struct {
	apiKey           string
	fernetKeys       []*fernet.Key
	tokenTtl         time.Duration
	allowInsecureDev bool
}

func newAuthenticator(options AuthOptions) (*authenticator, error) {
	a := &authenticator{
		apiKey:           options.ApiKey,
		tokenTtl:         options.TokenTtl,
		allowInsecureDev: options.AllowInsecureDev,
	}
	if options.FernetKey != "" {
		key, err := fernet.DecodeKey(options.FernetKey)
		if err != nil {
			return nil, fmt.Errorf("Invalid fernet key: %s", err.Error())
		}
		a.fernetKeys = []*fernet.Key{key}
	}
	if a.apiKey == "" && a.fernetKeys == nil && !a.allowInsecureDev {
		return nil, fmt.Errorf("No authentication credentials were configured.")
	}
	return a, nil
}

// extracts the credential from the Authorization or X-API-Key header
func credentialFrom(authorizationHeader, apiKeyHeader string) string {
	if apiKeyHeader != "" {
		return apiKeyHeader
	}
	if token, found := strings.CutPrefix(authorizationHeader, "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

// authorize clients of the depot, returning an error describing any issue
// encountered
func (a *authenticator) authorize(authorizationHeader, apiKeyHeader string) error {
	if a.allowInsecureDev {
		return nil
	}
	credential := credentialFrom(authorizationHeader, apiKeyHeader)
	if credential == "" {
		return huma.Error401Unauthorized("No credentials were supplied")
	}
	if a.apiKey != "" &&
		subtle.ConstantTimeCompare([]byte(credential), []byte(a.apiKey)) == 1 {
		return nil
	}
	if a.fernetKeys != nil {
		if fernet.VerifyAndDecrypt([]byte(credential), a.tokenTtl, a.fernetKeys) != nil {
			return nil
		}
	}
	return huma.Error401Unauthorized("Invalid credentials")
}
