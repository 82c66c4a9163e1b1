// internal/clients/membership_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/proall22/library-management-system/internal/circulation"
)

// MembershipClient resolves members from the external membership service.
// It implements circulation.Directory.
type MembershipClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMembershipClient(baseURL string) *MembershipClient {
	return &MembershipClient{baseURL: baseURL, httpClient: http.DefaultClient}
}

func (c *MembershipClient) Member(ctx context.Context, id uuid.UUID) (*circulation.Member, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/members/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("membership service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, circulation.ErrNotFound
	default:
		return nil, fmt.Errorf("membership service: unexpected status code %d", resp.StatusCode)
	}

	var member circulation.Member
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return nil, fmt.Errorf("membership service: decode member: %w", err)
	}
	return &member, nil
}
