package policy

// BuiltinPolicies returns the policies every engine carries by default.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedPackagesPolicy(),
		firewallGuardPolicy(),
		worldWritableFilePolicy(),
	}
}

// protectedPackagesPolicy blocks removal of packages the system cannot
// boot or recover without.
func protectedPackagesPolicy() Policy {
	return Policy{
		Name:        "protected-packages",
		Description: "Blocks removal of base system packages",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package alpenglow.policies.protected

import rego.v1

protected := {"apk-tools", "busybox", "openrc", "alpine-base", "musl"}

deny contains violation if {
	input.action.type == "remove"
	input.action.kind == "package"
	protected[input.action.id]
	violation := {
		"message": sprintf("refusing to remove protected base package %q", [input.action.id]),
		"severity": "error",
		"resource": sprintf("package/%s", [input.action.id]),
	}
}
`,
	}
}

// firewallGuardPolicy blocks disabling the firewall itself.
func firewallGuardPolicy() Policy {
	return Policy{
		Name:        "firewall-guard",
		Description: "Blocks disabling the firewall",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package alpenglow.policies.firewall

import rego.v1

deny contains violation if {
	input.action.type == "disable"
	input.action.kind == "firewall-rule"
	input.action.id == "ufw"
	violation := {
		"message": "refusing to disable the firewall",
		"severity": "error",
		"resource": "firewall-rule/ufw",
	}
}
`,
	}
}

// worldWritableFilePolicy warns on files declared world-writable.
func worldWritableFilePolicy() Policy {
	return Policy{
		Name:        "world-writable-files",
		Description: "Warns when a managed file is declared world-writable",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package alpenglow.policies.files

import rego.v1

deny contains violation if {
	input.action.type == "write"
	input.action.kind == "file"
	mode := input.action.desired.mode
	endswith(mode, "7")
	violation := {
		"message": sprintf("file %q declared world-writable (mode %s)", [input.action.id, mode]),
		"severity": "warning",
		"resource": sprintf("file/%s", [input.action.id]),
	}
}

deny contains violation if {
	input.action.type == "write"
	input.action.kind == "file"
	mode := input.action.desired.mode
	endswith(mode, "6")
	violation := {
		"message": sprintf("file %q declared world-writable (mode %s)", [input.action.id, mode]),
		"severity": "warning",
		"resource": sprintf("file/%s", [input.action.id]),
	}
}
`,
	}
}
