// Package policy evaluates Terraform plans against Rego policies using the
// embedded Open Policy Agent library.
//
// # Architecture
//
// The policy system consists of three components:
//
//  1. Engine - compiles Rego modules and evaluates the findings query
//  2. Loader - reads .rego files from disk and watches them for changes
//  3. Built-in policies - a default rule set used when no policy directory exists
//
// # Policy Contract
//
// Every module contributes to one package (terraform.analysis by default)
// through three partial set rules:
//
//	package terraform.analysis
//
//	import rego.v1
//
//	deny contains msg if {
//	    some rc in input.resource_changes
//	    rc.type == "aws_s3_bucket"
//	    "delete" in rc.change.actions
//	    msg := sprintf("bucket %s must not be deleted", [rc.address])
//	}
//
// deny findings block the apply (subject to strict mode), warn findings are
// advisory and info findings are informational. Rules may emit plain strings
// or objects with a "msg" or "message" field.
//
// # Input Document
//
// The input carries the relevant resource changes, the blast radius
// classification, plan metadata, the emergency override flag, the evaluation
// timestamp and the git commit. See Input.
//
// # Usage
//
//	eng := policy.NewEngine(logger, policy.DefaultOptions())
//	if err := eng.LoadPolicies(ctx, []string{"policies"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.EvaluatePlan(ctx, req)
//
// Compilation errors are reported as engine.ErrPolicyCompile and evaluation
// failures (including timeouts) as engine.ErrPolicyEval. Both are fatal.
//
// # Hot Reload
//
// The loader can watch policy files and hand the reloaded set to the engine:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.SetPolicies(ctx, policies)
//	})
package policy
