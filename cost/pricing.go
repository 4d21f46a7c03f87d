// Package cost estimates the monthly carrying cost of abandoned resources
// and buckets findings into severity bands.
package cost

// Candidate carries the row attributes cost estimation reads.
type Candidate struct {
	ResourceType string
	SKU          string
	SizeGB       float64
	Capacity     int
}

// monthlyRates maps resource type to SKU-keyed monthly USD rates.
// Disk rates are per GB-month; every other rate is per resource-month.
// The "default" entry is the documented fallback when a SKU is absent.
var monthlyRates = map[string]map[string]float64{
	"microsoft.compute/disks": {
		"Standard_LRS":    0.05,
		"StandardSSD_LRS": 0.075,
		"Premium_LRS":     0.15,
		"UltraSSD_LRS":    0.20,
		"default":         0.10,
	},
	"microsoft.network/publicipaddresses": {
		"Standard": 3.65,
		"Basic":    0.0,
		"default":  3.65,
	},
	"microsoft.network/loadbalancers": {
		"Standard": 18.25,
		"Basic":    0.0,
		"Gateway":  18.25,
		"default":  18.25,
	},
	"microsoft.network/natgateways": {
		"default": 32.85,
	},
	"microsoft.sql/servers/elasticpools": {
		"Basic":            15.00,
		"Standard":         75.00,
		"Premium":          465.00,
		"GeneralPurpose":   200.00,
		"BusinessCritical": 500.00,
		"default":          100.00,
	},
	"microsoft.network/virtualnetworkgateways": {
		"VpnGw1":  140.16,
		"VpnGw2":  361.35,
		"VpnGw3":  722.70,
		"VpnGw4":  1252.80,
		"VpnGw5":  2505.60,
		"Basic":   27.01,
		"ErGw1Az": 209.39,
		"ErGw2Az": 523.61,
		"ErGw3Az": 1396.40,
		"default": 140.16,
	},
	"microsoft.network/ddosprotectionplans": {
		"default": 2944.00,
	},
	"microsoft.network/privateendpoints": {
		"default": 7.30,
	},
}

// Estimate returns the estimated monthly USD cost for a candidate row.
// The bool reports an exact rate match: false means the candidate carried
// a SKU the table does not list (the per-type default rate was applied)
// or the resource type is unpriced entirely. An unpriceable candidate
// costs zero; pricing never fails.
func Estimate(c Candidate) (float64, bool) {
	rates, ok := monthlyRates[c.ResourceType]
	if !ok {
		return 0, false
	}

	rate, exact := rates[c.SKU]
	if !exact {
		rate = rates["default"]
		// Flat-rate types carry only a default entry; nothing fell back.
		exact = len(rates) == 1
	}

	switch c.ResourceType {
	case "microsoft.compute/disks":
		return rate * c.SizeGB, exact
	case "microsoft.sql/servers/elasticpools":
		if c.Capacity > 0 {
			return rate * float64(c.Capacity) / 50.0, exact
		}
		return rate, exact
	}
	return rate, exact
}
