package hierarchy

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/managementgroups/armmanagementgroups"
)

// subscriptionDescendantType marks subscription entries in the
// descendants listing.
const subscriptionDescendantType = "/subscriptions"

// AzureGroupClient backs GroupClient with the management groups API.
type AzureGroupClient struct {
	client *armmanagementgroups.Client
}

// NewAzureGroupClient builds a management group client from a credential.
func NewAzureGroupClient(cred azcore.TokenCredential) (*AzureGroupClient, error) {
	client, err := armmanagementgroups.NewClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create management groups client: %w", err)
	}
	return &AzureGroupClient{client: client}, nil
}

// Subscriptions pages through the group's descendants. The service
// flattens nested groups, so one walk covers the whole subtree.
func (c *AzureGroupClient) Subscriptions(ctx context.Context, groupID string) ([]string, error) {
	var subs []string
	pager := c.client.NewGetDescendantsPager(groupID, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list descendants of %s: %w", groupID, err)
		}
		for _, d := range page.Value {
			if d == nil || d.Type == nil || d.Name == nil {
				continue
			}
			if *d.Type == subscriptionDescendantType {
				subs = append(subs, *d.Name)
			}
		}
	}
	return subs, nil
}
