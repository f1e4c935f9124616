package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TheBearguy/tf-gatekeeper/pkg/engine"
)

// GetBuiltinPolicies returns all built-in policies. They share the
// terraform.analysis package and are used when no policy directory exists.
// An empty criticalTypes protects engine.DefaultCriticalTypes.
func GetBuiltinPolicies(criticalTypes []string) []Policy {
	if len(criticalTypes) == 0 {
		criticalTypes = engine.DefaultCriticalTypes
	}
	return []Policy{
		protectedResourcesPolicy(criticalTypes),
		networkExposurePolicy(),
		blastRadiusPolicy(),
		governancePolicy(),
	}
}

func builtin(name, description, rego string) Policy {
	return Policy{
		Name:        name,
		Description: description,
		Rego:        rego,
		Builtin:     true,
		LoadedAt:    time.Now(),
	}
}

// protectedResourcesPolicy denies destruction of stateful resource types
// unless the run is an emergency override.
func protectedResourcesPolicy(types []string) Policy {
	return builtin(
		"protected-resources",
		"Denies deletion or replacement of protected stateful resources",
		fmt.Sprintf(`package terraform.analysis

import rego.v1

protected_types := %s

destroys_protected(rc) if {
	protected_types[rc.type]
	"delete" in rc.change.actions
}

deny contains msg if {
	some rc in input.resource_changes
	destroys_protected(rc)
	not input.emergency_override
	msg := sprintf("CRITICAL: protected resource %%s (%%s) would be destroyed", [rc.address, rc.type])
}

warn contains msg if {
	some rc in input.resource_changes
	destroys_protected(rc)
	input.emergency_override
	msg := sprintf("protected resource %%s (%%s) is destroyed under emergency override", [rc.address, rc.type])
}
`, regoSet(types)),
	)
}

// networkExposurePolicy flags security groups open to the whole internet.
func networkExposurePolicy() Policy {
	return builtin(
		"network-exposure",
		"Denies all-traffic ingress from 0.0.0.0/0 and warns on all-traffic egress",
		`package terraform.analysis

import rego.v1

all_traffic(rule) if {
	rule.from_port == 0
	rule.to_port == 0
	rule.protocol == "-1"
}

open_to_world(rule) if "0.0.0.0/0" in rule.cidr_blocks

open_to_world(rule) if "::/0" in rule.ipv6_cidr_blocks

writes(rc) if "create" in rc.change.actions

writes(rc) if "update" in rc.change.actions

deny contains msg if {
	some rc in input.resource_changes
	rc.type == "aws_security_group"
	writes(rc)
	some rule in rc.change.after.ingress
	all_traffic(rule)
	open_to_world(rule)
	msg := sprintf("SECURITY RISK: security group %s allows all ingress traffic from the internet", [rc.address])
}

deny contains msg if {
	some rc in input.resource_changes
	rc.type == "aws_security_group_rule"
	writes(rc)
	rc.change.after.type == "ingress"
	all_traffic(rc.change.after)
	open_to_world(rc.change.after)
	msg := sprintf("SECURITY RISK: security group rule %s allows all ingress traffic from the internet", [rc.address])
}

warn contains msg if {
	some rc in input.resource_changes
	rc.type == "aws_security_group"
	writes(rc)
	some rule in rc.change.after.egress
	all_traffic(rule)
	open_to_world(rule)
	msg := sprintf("security group %s allows all egress traffic to the internet", [rc.address])
}
`,
	)
}

// blastRadiusPolicy reports the classification back as findings.
func blastRadiusPolicy() Policy {
	return builtin(
		"blast-radius",
		"Warns on RED blast radius and summarizes change counts",
		`package terraform.analysis

import rego.v1

warn contains msg if {
	input.blast_radius.level == "RED"
	msg := sprintf("blast radius is RED: %d resources changed, %d deleted, %d replaced", [input.blast_radius.total_resources, input.blast_radius.delete_count, input.blast_radius.replace_count])
}

info contains msg if {
	br := input.blast_radius
	msg := sprintf("blast radius %s: %d create, %d update, %d delete, %d replace", [br.level, br.create_count, br.update_count, br.delete_count, br.replace_count])
}
`,
	)
}

// governancePolicy records run metadata.
func governancePolicy() Policy {
	return builtin(
		"governance",
		"Reports override state and plan provenance",
		`package terraform.analysis

import rego.v1

info contains "emergency override active: deny findings will not block" if {
	input.emergency_override
}

info contains msg if {
	input.terraform_version != ""
	msg := sprintf("plan produced by terraform %s", [input.terraform_version])
}

warn contains "plan does not record a terraform version" if {
	input.terraform_version == ""
}

info contains msg if {
	input.git_commit != ""
	msg := sprintf("evaluated at commit %s", [input.git_commit])
}
`,
	)
}

// regoSet renders values as a Rego set literal.
func regoSet(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)

	quoted := make([]string, len(sorted))
	for i, v := range sorted {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}
