// Package config loads and validates the tf-gate configuration.
//
// # Sources
//
// The effective configuration is layered, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. tf-gate.yaml, tf-gate.yml, .tf-gate.yaml or .tf-gate.yml, found by
//     searching upward from the working directory, or the file named by
//     --config / TFGATE_CONFIG
//  3. TFGATE_* environment variables
//  4. Command-line flags, passed to Load as Override functions
//
// Relative paths in a file (policy_dir, audit.db_path, snapshot_path,
// log and metrics files) are resolved against the file's directory.
//
// # Validation
//
// Struct constraints are declared as validator/v10 tags. Rules spanning
// fields (threshold ordering, loadable timezone, snapshot path for the
// snapshot drift source) are checked by Validate afterwards.
//
// # Example
//
//	version: 1
//	opa:
//	  policy_dir: policies
//	  strict_mode: true
//	blast_radius:
//	  thresholds: {green: 5, yellow: 20, red: 50}
//	phases:
//	  phase_3_time_gating:
//	    friday_cutoff_hour: 15
//	    weekend_blocking: true
//	    timezone: Europe/Berlin
//	  phase_4_intent:
//	    mode: delegated
//	    provider: ollama
//	    model: llama3.1
package config
