package device

import "testing"

func TestValidEnvironments(t *testing.T) {
	cases := []struct {
		env  Environment
		want bool
	}{
		{EnvLab, true},
		{EnvStaging, true},
		{EnvProd, true},
		{Environment("canary"), false},
		{Environment(""), false},
	}
	for _, c := range cases {
		if got := ValidEnvironments[c.env]; got != c.want {
			t.Errorf("ValidEnvironments[%q] = %v, want %v", c.env, got, c.want)
		}
	}
}

func TestCapabilitiesDefaultFalse(t *testing.T) {
	var c Capabilities
	if c.AllowAdvancedWrites || c.AllowProfessionalWorkflows || c.AllowSSHCommands {
		t.Fatalf("zero-value Capabilities must default to all false, got %+v", c)
	}
}
