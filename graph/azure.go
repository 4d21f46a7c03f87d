package graph

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resourcegraph/armresourcegraph"
)

// AzureClient backs QueryClient with the Azure Resource Graph service.
type AzureClient struct {
	client *armresourcegraph.Client
}

// NewAzureClient builds a resource graph client from a credential.
func NewAzureClient(cred azcore.TokenCredential) (*AzureClient, error) {
	client, err := armresourcegraph.NewClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create resource graph client: %w", err)
	}
	return &AzureClient{client: client}, nil
}

// Query issues one page-sized request in object-array format.
func (c *AzureClient) Query(ctx context.Context, req Request) (Page, error) {
	options := &armresourcegraph.QueryRequestOptions{
		ResultFormat: to.Ptr(armresourcegraph.ResultFormatObjectArray),
	}
	if req.SkipToken != "" {
		options.SkipToken = to.Ptr(req.SkipToken)
	}
	if req.PageSize > 0 {
		options.Top = to.Ptr(int32(req.PageSize)) // #nosec G115 -- page size is validated config, well under int32
	}

	resp, err := c.client.Resources(ctx, armresourcegraph.QueryRequest{
		Query:         to.Ptr(req.Query),
		Subscriptions: to.SliceOfPtrs(req.SubscriptionIDs...),
		Options:       options,
	}, nil)
	if err != nil {
		return Page{}, err
	}

	page := Page{}
	if resp.SkipToken != nil {
		page.SkipToken = *resp.SkipToken
	}
	if resp.TotalRecords != nil {
		page.TotalRecords = *resp.TotalRecords
	}
	rows, ok := resp.Data.([]any)
	if !ok {
		return page, nil
	}
	page.Rows = make([]Row, 0, len(rows))
	for _, raw := range rows {
		if m, ok := raw.(map[string]any); ok {
			page.Rows = append(page.Rows, Row(m))
		}
	}
	return page, nil
}
