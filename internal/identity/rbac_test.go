package identity

import (
	"testing"

	"github.com/google/uuid"
)

func TestPermitsTier(t *testing.T) {
	tests := []struct {
		role string
		tier string
		want bool
	}{
		{RoleViewer, TierFundamental, true},
		{RoleViewer, TierAdvanced, false},
		{RoleOperator, TierAdvanced, true},
		{RoleOperator, TierProfessional, true},
		{RoleAdmin, TierProfessional, true},
		{RoleViewer, TierProfessional, false},
	}

	for _, tt := range tests {
		if got := PermitsTier(tt.role, tt.tier); got != tt.want {
			t.Errorf("PermitsTier(%s, %s) = %v, want %v", tt.role, tt.tier, got, tt.want)
		}
	}
}

func TestPermitsDeviceEmptyScopeAllowsAny(t *testing.T) {
	id := &Identity{Role: RoleOperator}
	if !id.PermitsDevice(uuid.MustParse("11111111-1111-1111-1111-111111111111")) {
		t.Fatalf("expected empty device scope to permit any device")
	}
}
