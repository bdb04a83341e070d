package plan

import (
	"testing"

	"github.com/google/uuid"
)

func TestClassifyRiskSingleDeviceLowTopic(t *testing.T) {
	targets := []Target{
		{DeviceID: uuid.New(), Changes: []Change{{Topic: TopicComment}}},
	}
	if got := classifyRisk(targets, false); got != RiskLow {
		t.Fatalf("classifyRisk() = %q, want %q", got, RiskLow)
	}
}

func TestClassifyRiskMediumTopic(t *testing.T) {
	targets := []Target{
		{DeviceID: uuid.New(), Changes: []Change{{Topic: TopicDNS}}},
	}
	if got := classifyRisk(targets, false); got != RiskMedium {
		t.Fatalf("classifyRisk() = %q, want %q", got, RiskMedium)
	}
}

func TestClassifyRiskStaticRouteIsHigh(t *testing.T) {
	targets := []Target{
		{DeviceID: uuid.New(), Changes: []Change{{Topic: TopicStaticRoute}}},
	}
	if got := classifyRisk(targets, false); got != RiskHigh {
		t.Fatalf("classifyRisk() = %q, want %q", got, RiskHigh)
	}
}

func TestClassifyRiskMultiDeviceForcesHigh(t *testing.T) {
	targets := []Target{
		{DeviceID: uuid.New(), Changes: []Change{{Topic: TopicComment}}},
		{DeviceID: uuid.New(), Changes: []Change{{Topic: TopicComment}}},
	}
	if got := classifyRisk(targets, false); got != RiskHigh {
		t.Fatalf("classifyRisk() over multiple devices = %q, want %q", got, RiskHigh)
	}
}

func TestClassifyRiskProfessionalTierForcesHigh(t *testing.T) {
	targets := []Target{
		{DeviceID: uuid.New(), Changes: []Change{{Topic: TopicComment}}},
	}
	if got := classifyRisk(targets, true); got != RiskHigh {
		t.Fatalf("classifyRisk() for professional tier = %q, want %q", got, RiskHigh)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("Status(%q).IsTerminal() = false, want true", s)
		}
	}

	nonTerminal := []Status{StatusDraft, StatusPendingApproval, StatusApproved, StatusExecuting}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("Status(%q).IsTerminal() = true, want false", s)
		}
	}
}

func TestDiffChanged(t *testing.T) {
	cases := []struct {
		name    string
		current map[string]any
		desired map[string]any
		want    bool
	}{
		{"identical", map[string]any{"servers": "1.1.1.1"}, map[string]any{"servers": "1.1.1.1"}, false},
		{"different value", map[string]any{"servers": "8.8.8.8"}, map[string]any{"servers": "1.1.1.1"}, true},
		{"missing key", map[string]any{"other": "x"}, map[string]any{"servers": "1.1.1.1"}, true},
		{"unreadable current", nil, map[string]any{"servers": "1.1.1.1"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := diffChanged(c.current, c.desired); got != c.want {
				t.Errorf("diffChanged(%v, %v) = %v, want %v", c.current, c.desired, got, c.want)
			}
		})
	}
}
