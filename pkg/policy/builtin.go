package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		expectationMismatchPolicy(),
		queryFailedPolicy(),
		errorStateReachablePolicy(),
		witnessLengthPolicy(),
	}
}

// expectationMismatchPolicy flags queries whose verdict disagrees with the
// expectation written in the model.
func expectationMismatchPolicy() Policy {
	return Policy{
		Name:        "expectation_mismatch",
		Description: "A query's verdict must match its declared expectation",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"expectations"},
		Rego: `package pdreach.builtin.expectation_mismatch

import rego.v1

deny contains violation if {
	some r in input.results
	r.expect
	r.verdict
	r.expect != r.verdict
	violation := {
		"query": r.query,
		"message": sprintf("query %s expected %s but target %s is %s", [r.query, r.expect, r.target, r.verdict]),
	}
}
`,
	}
}

func queryFailedPolicy() Policy {
	return Policy{
		Name:        "query_failed",
		Description: "Every query must produce a verdict",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"errors"},
		Rego: `package pdreach.builtin.query_failed

import rego.v1

deny contains violation if {
	some r in input.results
	r.error
	violation := {
		"query": r.query,
		"message": sprintf("query %s failed: %s", [r.query, r.error.message]),
	}
}
`,
	}
}

// errorStateReachablePolicy treats control states named err* as error
// states that should never be reached.
func errorStateReachablePolicy() Policy {
	return Policy{
		Name:        "error_state_reachable",
		Description: "Control states whose name starts with err should be unreachable",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety"},
		Rego: `package pdreach.builtin.error_state_reachable

import rego.v1

deny contains violation if {
	some r in input.results
	r.reachable
	startswith(r.target_state, "err")
	violation := {
		"query": r.query,
		"message": sprintf("error state %s is reachable: %s from %s", [r.target_state, r.target, r.source]),
	}
}
`,
	}
}

func witnessLengthPolicy() Policy {
	return Policy{
		Name:        "witness_length",
		Description: "Witnesses must not exceed limits.max_witness steps",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package pdreach.builtin.witness_length

import rego.v1

deny contains violation if {
	input.limits.max_witness > 0
	some r in input.results
	count(r.witness) > input.limits.max_witness
	violation := {
		"query": r.query,
		"message": sprintf("witness for %s has %d steps, limit is %d", [r.query, count(r.witness), input.limits.max_witness]),
	}
}
`,
	}
}
