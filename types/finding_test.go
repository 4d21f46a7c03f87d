package types

import (
	"testing"
)

func TestFinding_Validate(t *testing.T) {
	valid := Finding{
		FindingID:            "a1b2c3d4e5f60718",
		SubscriptionID:       "sub-001",
		ResourceID:           "/subscriptions/sub-001/resourceGroups/rg/providers/Microsoft.Compute/disks/d1",
		ResourceType:         "microsoft.compute/disks",
		Category:             CategoryAbandoned,
		Severity:             SeverityMedium,
		ConfidenceScore:      70,
		ConfidenceLevel:      ConfidenceMedium,
		IncursCost:           true,
		EstimatedMonthlyCost: 38.40,
	}

	tests := []struct {
		name    string
		mutate  func(f *Finding)
		wantErr bool
	}{
		{
			name:    "valid finding",
			mutate:  func(f *Finding) {},
			wantErr: false,
		},
		{
			name:    "empty finding ID",
			mutate:  func(f *Finding) { f.FindingID = "" },
			wantErr: true,
		},
		{
			name:    "empty resource ID",
			mutate:  func(f *Finding) { f.ResourceID = "" },
			wantErr: true,
		},
		{
			name:    "empty subscription ID",
			mutate:  func(f *Finding) { f.SubscriptionID = "" },
			wantErr: true,
		},
		{
			name:    "score above range",
			mutate:  func(f *Finding) { f.ConfidenceScore = 101 },
			wantErr: true,
		},
		{
			name:    "score below range",
			mutate:  func(f *Finding) { f.ConfidenceScore = -1 },
			wantErr: true,
		},
		{
			name:    "negative cost",
			mutate:  func(f *Finding) { f.EstimatedMonthlyCost = -0.01 },
			wantErr: true,
		},
		{
			name:    "unknown category",
			mutate:  func(f *Finding) { f.Category = "zombie" },
			wantErr: true,
		},
		{
			name:    "unknown severity",
			mutate:  func(f *Finding) { f.Severity = "catastrophic" },
			wantErr: true,
		},
		{
			name:    "unknown confidence level",
			mutate:  func(f *Finding) { f.ConfidenceLevel = "sure" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			err := f.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Finding.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFindingID(t *testing.T) {
	id := FindingID("/subscriptions/s/providers/p/r1", "exec-001")

	if len(id) != 16 {
		t.Errorf("FindingID length = %d, want 16", len(id))
	}

	// Same inputs must always derive the same identity
	if again := FindingID("/subscriptions/s/providers/p/r1", "exec-001"); again != id {
		t.Errorf("FindingID not deterministic: %s != %s", again, id)
	}

	// Different execution means a different finding
	if other := FindingID("/subscriptions/s/providers/p/r1", "exec-002"); other == id {
		t.Errorf("FindingID collision across executions: %s", other)
	}
}
