// Package github implements the issue and pull request tracker on the
// GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

// NewClient creates a GitHub client authenticated with token. A non-empty
// baseURL selects a GitHub Enterprise API root.
func NewClient(ctx context.Context, token config.Secret, baseURL string) (*gogithub.Client, error) {
	if !token.IsSet() {
		return nil, errors.New("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := gogithub.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL == "" {
		return client, nil
	}

	client, err := client.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("configuring GitHub Enterprise URL: %w", err)
	}
	return client, nil
}
