// Package routeros implements the RouterOS client: a typed,
// REST-then-SSH client against MikroTik RouterOS devices, backed by a
// closed catalog of operations so no user-supplied string ever reaches a
// path or shell command directly.
package routeros

import (
	"fmt"
	"regexp"
)

// Op is a closed-set operation identifier. Every value the client accepts
// must have a CatalogEntry; anything else is rejected before any network
// I/O, so no user-supplied string is ever interpolated into a request.
type Op string

const (
	OpSystemResourceRead Op = "system.resource.read"
	OpSystemIdentityRead Op = "system.identity.read"
	OpExportCompact      Op = "system.export_compact"
	OpIPAddressList      Op = "ip.address.list"
	OpIPAddressAdd       Op = "ip.address.add"
	OpIPAddressRemove    Op = "ip.address.remove"
	OpIPDNSRead          Op = "ip.dns.read"
	OpIPDNSSet           Op = "ip.dns.set"
	OpIPRouteList        Op = "ip.route.list"
	OpIPRouteAdd         Op = "ip.route.add"
	OpFirewallFilterList Op = "ip.firewall.filter.list"
	OpFirewallFilterAdd  Op = "ip.firewall.filter.add"
	OpConfigImport       Op = "system.config_import"
)

// CatalogEntry pairs a REST mapping with an SSH fallback command template
// for a single Op. Params named in ParamNames are the only substitutions
// permitted in SSHCommand; every other token is a literal.
type CatalogEntry struct {
	RESTMethod string
	RESTPath   string
	SSHCommand string
	ParamNames []string
	Write      bool
}

// Catalog is the closed set of operations the client will execute.
var Catalog = map[Op]CatalogEntry{
	OpSystemResourceRead: {
		RESTMethod: "GET",
		RESTPath:   "/rest/system/resource",
		SSHCommand: "/system resource print",
	},
	OpSystemIdentityRead: {
		RESTMethod: "GET",
		RESTPath:   "/rest/system/identity",
		SSHCommand: "/system identity print",
	},
	OpExportCompact: {
		RESTMethod: "POST",
		RESTPath:   "/rest/system/export",
		SSHCommand: "/export compact",
	},
	OpIPAddressList: {
		RESTMethod: "GET",
		RESTPath:   "/rest/ip/address",
		SSHCommand: "/ip address print",
	},
	OpIPAddressAdd: {
		RESTMethod: "PUT",
		RESTPath:   "/rest/ip/address",
		SSHCommand: "/ip address add address=%s interface=%s",
		ParamNames: []string{"address", "interface"},
		Write:      true,
	},
	OpIPAddressRemove: {
		RESTMethod: "DELETE",
		RESTPath:   "/rest/ip/address/%s",
		SSHCommand: "/ip address remove numbers=%s",
		ParamNames: []string{"id"},
		Write:      true,
	},
	OpIPDNSRead: {
		RESTMethod: "GET",
		RESTPath:   "/rest/ip/dns",
		SSHCommand: "/ip dns print",
	},
	OpIPDNSSet: {
		RESTMethod: "PATCH",
		RESTPath:   "/rest/ip/dns",
		SSHCommand: "/ip dns set servers=%s",
		ParamNames: []string{"servers"},
		Write:      true,
	},
	OpIPRouteList: {
		RESTMethod: "GET",
		RESTPath:   "/rest/ip/route",
		SSHCommand: "/ip route print",
	},
	OpIPRouteAdd: {
		RESTMethod: "PUT",
		RESTPath:   "/rest/ip/route",
		SSHCommand: "/ip route add dst-address=%s gateway=%s",
		ParamNames: []string{"dst-address", "gateway"},
		Write:      true,
	},
	OpFirewallFilterList: {
		RESTMethod: "GET",
		RESTPath:   "/rest/ip/firewall/filter",
		SSHCommand: "/ip firewall filter print",
	},
	OpFirewallFilterAdd: {
		RESTMethod: "PUT",
		RESTPath:   "/rest/ip/firewall/filter",
		SSHCommand: "/ip firewall filter add chain=%s action=%s",
		ParamNames: []string{"chain", "action"},
		Write:      true,
	},
	OpConfigImport: {
		RESTMethod: "POST",
		RESTPath:   "/rest/import",
		SSHCommand: "/import file-name=%s",
		ParamNames: []string{"file-name"},
		Write:      true,
	},
}

// shellMetacharacters matches characters a typed parameter must never
// contain before it is rendered into an SSH command template.
var shellMetacharacters = regexp.MustCompile(`[;&|$` + "`" + `"'\\<>(){}\n\r]`)

// RenderSSH fills entry.SSHCommand's %s verbs with params, in ParamNames
// order, rejecting any parameter containing a shell metacharacter.
func RenderSSH(entry CatalogEntry, params map[string]string) (string, error) {
	args := make([]any, 0, len(entry.ParamNames))
	for _, name := range entry.ParamNames {
		v, ok := params[name]
		if !ok {
			return "", fmt.Errorf("missing required parameter %q", name)
		}
		if shellMetacharacters.MatchString(v) {
			return "", fmt.Errorf("parameter %q contains disallowed characters", name)
		}
		args = append(args, v)
	}
	return fmt.Sprintf(entry.SSHCommand, args...), nil
}
