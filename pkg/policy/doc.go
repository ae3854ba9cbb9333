// Package policy evaluates Open Policy Agent (OPA) Rego policies against
// reachability reports.
//
// # Architecture
//
// The policy system consists of three parts:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files and directories and watches them
//  3. Built-in Policies - expectation_mismatch, query_failed,
//     error_state_reachable and witness_length
//
// # Input
//
// Policies see the batch report as input:
//
//	{
//	  "run_id": "...",
//	  "model": "calls",
//	  "results": [{"query": "ret", "target_state": "q", "reachable": true, ...}],
//	  "summary": {"total": 1, ...},
//	  "limits": {"max_witness": 20}
//	}
//
// Each result carries the fields of engine.Result in their JSON form.
//
// # Writing Policies
//
// A policy defines a deny set in its package:
//
//	# Calls from main must never reach the panic handler.
//	# severity: error
//	package pdreach.custom.no_panic
//
//	import rego.v1
//
//	deny contains violation if {
//	    some r in input.results
//	    r.reachable
//	    r.target_state == "panic"
//	    violation := {"query": r.query, "message": "panic handler is reachable"}
//	}
//
// Elements may be plain strings or objects with message, query and
// severity keys; other keys are kept as violation details. A violation of
// severity error or critical makes the result not Allowed.
//
// # Usage
//
//	eng, err := policy.NewEngine(policy.WithLimits(policy.Limits{MaxWitness: 20}))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, report)
package policy
