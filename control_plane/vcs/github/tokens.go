package github

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/jwtauth/v5"
)

// AppTokenSource signs short lived app JWTs with the GitHub app private key
// and exchanges them for installation access tokens.
type AppTokenSource struct {
	appId  string
	apiUrl string
	auth   *jwtauth.JWTAuth
}

func NewAppTokenSource(appId, apiUrl string, privateKeyPem []byte) (*AppTokenSource, error) {
	key, err := parsePrivateKey(privateKeyPem)
	if err != nil {
		return nil, err
	}

	return &AppTokenSource{
		appId:  appId,
		apiUrl: apiUrl,
		auth:   jwtauth.New("RS256", key, nil),
	}, nil
}

func parsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("error parsing github app private key: no pem block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("error parsing github app private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("github app private key is not an rsa key")
	}
	return key, nil
}

func (t *AppTokenSource) appJwt() (string, error) {
	now := time.Now()
	// GitHub rejects app JWTs issued in the future, so backdate slightly to
	// absorb clock skew.
	_, token, err := t.auth.Encode(map[string]interface{}{
		"iss": t.appId,
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("error signing github app jwt: %w", err)
	}
	return token, nil
}

func (t *AppTokenSource) InstallationToken(installationId string) (string, error) {
	appJwt, err := t.appJwt()
	if err != nil {
		return "", err
	}

	endpoint, err := url.JoinPath(t.apiUrl, "app/installations", installationId, "access_tokens")
	if err != nil {
		return "", fmt.Errorf("error formatting github api url: %w", err)
	}

	req, err := http.NewRequest("POST", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("error creating github token request: %w", err)
	}
	req.Header.Add("Accept", "application/vnd.github+json")
	req.Header.Add("Authorization", "Bearer "+appJwt)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending github token request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("github token exchange returned status %d", res.StatusCode)
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("error parsing github token response: %w", err)
	}

	return parsed.Token, nil
}

// StaticTokenSource returns a fixed token. Used in tests and for personal
// access token deployments.
type StaticTokenSource struct {
	Token string
}

func (t StaticTokenSource) InstallationToken(installationId string) (string, error) {
	return t.Token, nil
}
