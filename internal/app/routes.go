package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrenops/netguard-mcp/internal/audit"
	"github.com/wrenops/netguard-mcp/internal/httpserver"
	"github.com/wrenops/netguard-mcp/pkg/approval"
	"github.com/wrenops/netguard-mcp/pkg/credential"
	"github.com/wrenops/netguard-mcp/pkg/device"
	"github.com/wrenops/netguard-mcp/pkg/health"
	"github.com/wrenops/netguard-mcp/pkg/job"
	"github.com/wrenops/netguard-mcp/pkg/plan"
	"github.com/wrenops/netguard-mcp/pkg/snapshot"
)

type adminDeps struct {
	logger      *slog.Logger
	db          *pgxpool.Pool
	audit       *audit.Writer
	devices     *device.Service
	credentials *credential.Service
	plans       *plan.Service
	approvals   *approval.Gateway
	jobs        *job.Store
	executor    *job.Executor
	health      *health.Scheduler
	snapshots   *snapshot.Service
}

// mountAdminRoutes mounts the operator-facing domain handlers under
// /admin/v1. All routes sit behind the auth middleware and RequireAuth
// installed by httpserver.NewServer, so every request needs a resolved
// identity; no per-route role check is applied, here or in the handlers'
// Routes().
func mountAdminRoutes(srv *httpserver.Server, deps adminDeps) {
	deviceHandler := device.NewHandler(deps.logger, deps.audit, deps.devices)
	srv.APIRouter.Mount("/devices", deviceHandler.Routes())

	credentialHandler := credential.NewHandler(deps.logger, deps.audit, deps.credentials)
	srv.APIRouter.Mount("/devices/{deviceID}/credentials", credentialHandler.Routes())

	planHandler := plan.NewHandler(deps.logger, deps.audit, deps.plans)
	srv.APIRouter.Mount("/plans", planHandler.Routes())

	approvalHandler := approval.NewHandler(deps.logger, deps.audit, deps.approvals)
	srv.APIRouter.Mount("/approvals", approvalHandler.Routes())

	jobHandler := job.NewHandler(deps.logger, deps.audit, deps.jobs, deps.executor)
	srv.APIRouter.Mount("/jobs", jobHandler.Routes())

	healthHandler := health.NewHandler(deps.health)
	srv.APIRouter.Mount("/device-health", healthHandler.Routes())

	snapshotHandler := snapshot.NewHandler(deps.snapshots)
	srv.APIRouter.Mount("/snapshots", snapshotHandler.Routes())

	auditHandler := audit.NewHandler(deps.db, deps.logger)
	srv.APIRouter.Mount("/audit-log", auditHandler.Routes())
}
