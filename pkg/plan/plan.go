// Package plan implements the plan service: the propose-then-approve half
// of the plan/approve/apply/rollback workflow. A plan is built by loading
// current device state, computing desired state, and diffing the two into
// per-device Change records.
package plan

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Plan's lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusExecuting       Status = "executing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

// RiskLevel classifies a Plan's blast radius.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Topic is the closed set of configuration areas a Change may touch.
type Topic string

const (
	TopicComment        Topic = "comment"
	TopicIdentity       Topic = "identity"
	TopicTag            Topic = "tag"
	TopicDNS            Topic = "dns"
	TopicNTP            Topic = "ntp"
	TopicSecondaryIP    Topic = "secondary_ip"
	TopicAddressList    Topic = "address_list"
	TopicDHCP           Topic = "dhcp"
	TopicBridgePort     Topic = "bridge_port"
	TopicWirelessSSID   Topic = "wireless_ssid"
	TopicStaticRoute    Topic = "static_route"
	TopicFirewallFilter Topic = "firewall_filter"
)

// riskByTopic is the static per-topic risk classification;
// the Plan's overall RiskLevel is the max over every device and topic,
// additionally forced to high for any professional-tier tool or any plan
// spanning more than one device.
var riskByTopic = map[Topic]RiskLevel{
	TopicComment:        RiskLow,
	TopicIdentity:        RiskLow,
	TopicTag:             RiskLow,
	TopicDNS:             RiskMedium,
	TopicNTP:             RiskMedium,
	TopicSecondaryIP:     RiskMedium,
	TopicAddressList:     RiskMedium,
	TopicDHCP:            RiskMedium,
	TopicBridgePort:      RiskMedium,
	TopicWirelessSSID:    RiskMedium,
	TopicStaticRoute:     RiskHigh,
	TopicFirewallFilter:  RiskMedium,
}

// Change is a single proposed modification to a device's configuration.
type Change struct {
	Topic          Topic          `json:"topic"`
	Operation      string         `json:"operation"`
	CurrentValue   map[string]any `json:"currentValue,omitempty"`
	DesiredValue   map[string]any `json:"desiredValue,omitempty"`
	EstimatedImpact string        `json:"estimatedImpact,omitempty"`
	PreCheckResult string         `json:"preCheckResult,omitempty"`
}

// Target is one device's portion of a Plan.
type Target struct {
	DeviceID uuid.UUID `json:"deviceId"`
	Changes  []Change  `json:"changes"`
}

// Plan is an immutable-after-approval description of a proposed change
// set.
type Plan struct {
	ID            uuid.UUID `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy"`
	ToolName      string    `json:"toolName"`
	Status        Status    `json:"status"`
	Summary       string    `json:"summary"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Targets       []Target  `json:"targets"`
	ExpiresAt     time.Time `json:"expiresAt"`
	CorrelationID string    `json:"correlationId"`
	ApprovedBy    string    `json:"approvedBy,omitempty"`
	SequentialApply bool    `json:"sequentialApply"`
}

// IsTerminal reports whether status can never transition further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// classifyRisk computes the max risk level across every target/topic in
// changes.
func classifyRisk(targets []Target, professionalTier bool) RiskLevel {
	risk := RiskLow
	if professionalTier || len(targets) > 1 {
		risk = RiskHigh
	}
	for _, t := range targets {
		for _, c := range t.Changes {
			if r, ok := riskByTopic[c.Topic]; ok && riskRank(r) > riskRank(risk) {
				risk = r
			}
		}
	}
	return risk
}

func riskRank(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 0
	}
}
