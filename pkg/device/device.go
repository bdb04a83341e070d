// Package device implements the device registry: persisted device
// metadata, environment tags, capability flags, and tag-based lookup.
package device

import (
	"time"

	"github.com/google/uuid"
)

// Environment is the closed set of deployment tiers a device belongs to.
type Environment string

const (
	EnvLab     Environment = "lab"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// ValidEnvironments is the closed set checked by Register/Update.
var ValidEnvironments = map[Environment]bool{
	EnvLab:     true,
	EnvStaging: true,
	EnvProd:    true,
}

// Status is a device's operational state, maintained by HealthScheduler.
type Status string

const (
	StatusPending       Status = "pending"
	StatusHealthy       Status = "healthy"
	StatusDegraded      Status = "degraded"
	StatusUnreachable   Status = "unreachable"
	StatusDecommissioned Status = "decommissioned"
)

// Capabilities gates which tool tiers may run against a device,
// independent of the caller's role. All default false.
type Capabilities struct {
	AllowAdvancedWrites        bool `json:"allowAdvancedWrites"`
	AllowProfessionalWorkflows bool `json:"allowProfessionalWorkflows"`
	AllowSSHCommands           bool `json:"allowSSHCommands"`
}

// Metadata is observed, not declared — populated by HealthScheduler probes.
type Metadata struct {
	RouterOSVersion string `json:"routerosVersion,omitempty"`
	Identity        string `json:"identity,omitempty"`
	HardwareModel   string `json:"hardwareModel,omitempty"`
	Serial          string `json:"serial,omitempty"`
}

// Device identifies a managed RouterOS instance.
type Device struct {
	ID           uuid.UUID
	Name         string
	Endpoint     string // host:port
	Environment  Environment
	Status       Status
	Tags         map[string]string
	Capabilities Capabilities
	Metadata     Metadata
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Patch is a partial update applied by Update; nil fields are left
// unchanged.
type Patch struct {
	Endpoint     *string
	Tags         map[string]string
	Capabilities *Capabilities
}

// Filters narrows a Query call. An empty Filters matches every device.
type Filters struct {
	Environment Environment
	Tag         *TagFilter
	Status      Status
}

// TagFilter is an exact key+value match; no globbing.
type TagFilter struct {
	Key   string
	Value string
}
