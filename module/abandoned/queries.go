// Package abandoned implements the abandoned-resources detection module:
// eight declarative rules over the resource graph, each finding resources
// that incur cost but no longer serve anything.
package abandoned

// Detector pairs one resource type's orphan query with the row fields
// its findings read. SKUField names the projected column that prices the
// resource; empty means the type is flat-rate.
type Detector struct {
	ResourceType string
	Rule         string
	SKUField     string
	Query        string
}

// Detectors returns the eight detection rules in scan order.
func Detectors() []Detector {
	return []Detector{
		{
			ResourceType: "microsoft.compute/disks",
			Rule:         "Managed disk not attached to any VM",
			SKUField:     "sku",
			Query: `
Resources
| where type =~ 'microsoft.compute/disks'
| where properties.diskState == 'Unattached'
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    sku = properties.sku.name,
    diskSizeGB = properties.diskSizeGB,
    diskState = properties.diskState,
    timeCreated = properties.timeCreated,
    tags
`,
		},
		{
			ResourceType: "microsoft.network/publicipaddresses",
			Rule:         "Standard public IP without IP configuration",
			SKUField:     "sku",
			Query: `
Resources
| where type =~ 'microsoft.network/publicipaddresses'
| where sku.name == 'Standard'
| where isnull(properties.ipConfiguration)
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    sku = sku.name,
    allocationMethod = properties.publicIPAllocationMethod,
    ipAddress = properties.ipAddress,
    tags
`,
		},
		{
			ResourceType: "microsoft.network/loadbalancers",
			Rule:         "Load balancer with no backend pool members",
			SKUField:     "sku",
			Query: `
Resources
| where type =~ 'microsoft.network/loadbalancers'
| where sku.name == 'Standard'
| where array_length(properties.backendAddressPools) == 0
    or isnull(properties.backendAddressPools[0].properties.backendIPConfigurations)
    or array_length(properties.backendAddressPools[0].properties.backendIPConfigurations) == 0
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    sku = sku.name,
    backendPoolCount = array_length(properties.backendAddressPools),
    tags
`,
		},
		{
			ResourceType: "microsoft.network/natgateways",
			Rule:         "NAT gateway not associated with any subnet",
			Query: `
Resources
| where type =~ 'microsoft.network/natgateways'
| where isnull(properties.subnets) or array_length(properties.subnets) == 0
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    idleTimeoutInMinutes = properties.idleTimeoutInMinutes,
    tags
`,
		},
		{
			ResourceType: "microsoft.sql/servers/elasticpools",
			Rule:         "SQL elastic pool with no databases",
			SKUField:     "tier",
			Query: `
Resources
| where type =~ 'microsoft.sql/servers/elasticpools'
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    sku = sku.name,
    tier = sku.tier,
    capacity = sku.capacity,
    maxSizeBytes = properties.maxSizeBytes,
    tags,
    serverId = tostring(split(id, '/elasticPools/')[0])
| join kind=leftouter (
    Resources
    | where type =~ 'microsoft.sql/servers/databases'
    | where properties.elasticPoolId != ''
    | summarize dbCount = count() by elasticPoolId = tolower(properties.elasticPoolId)
) on $left.id == $right.elasticPoolId
| where isnull(dbCount) or dbCount == 0
| project-away elasticPoolId, dbCount
`,
		},
		{
			ResourceType: "microsoft.network/virtualnetworkgateways",
			Rule:         "VNet gateway with no active connections",
			SKUField:     "sku",
			Query: `
Resources
| where type =~ 'microsoft.network/virtualnetworkgateways'
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    gatewayType = properties.gatewayType,
    sku = properties.sku.name,
    tags
| join kind=leftouter (
    Resources
    | where type =~ 'microsoft.network/connections'
    | mv-expand gateway = pack_array(
        properties.virtualNetworkGateway1.id,
        properties.virtualNetworkGateway2.id
    )
    | where isnotnull(gateway)
    | summarize connectionCount = count() by gatewayId = tolower(tostring(gateway))
) on $left.id == $right.gatewayId
| where isnull(connectionCount) or connectionCount == 0
| project-away gatewayId, connectionCount
`,
		},
		{
			ResourceType: "microsoft.network/ddosprotectionplans",
			Rule:         "DDoS plan not protecting any VNets",
			Query: `
Resources
| where type =~ 'microsoft.network/ddosprotectionplans'
| where isnull(properties.virtualNetworks) or array_length(properties.virtualNetworks) == 0
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    provisioningState = properties.provisioningState,
    tags
`,
		},
		{
			ResourceType: "microsoft.network/privateendpoints",
			Rule:         "Private endpoint with no service connections",
			Query: `
Resources
| where type =~ 'microsoft.network/privateendpoints'
| where properties.provisioningState == 'Succeeded'
| where isnull(properties.privateLinkServiceConnections)
    or array_length(properties.privateLinkServiceConnections) == 0
| where isnull(properties.manualPrivateLinkServiceConnections)
    or array_length(properties.manualPrivateLinkServiceConnections) == 0
| project
    id,
    subscriptionId,
    resourceGroup,
    name,
    location,
    provisioningState = properties.provisioningState,
    tags
`,
		},
	}
}

// SupportedResourceTypes lists the resource types with a detection rule,
// in scan order.
func SupportedResourceTypes() []string {
	detectors := Detectors()
	out := make([]string, len(detectors))
	for i, d := range detectors {
		out[i] = d.ResourceType
	}
	return out
}
