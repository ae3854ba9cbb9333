// Package config loads pushdown models and CLI settings.
//
// # Model files
//
// A model names its control states and stack labels and lists rules and
// queries by those names. Four formats are supported and chosen by file
// extension:
//
//   - .yaml / .yml: the ModelSpec fields directly
//   - .cue: CUE, unified with the #Model schema; a directory is loaded as
//     one CUE package
//   - .star: a Starlark script calling model(), state(), label(), rule() and
//     query(); useful for generating large rule families
//   - .pds: a line-oriented text format parsed with participle
//
// The same model in .pds form:
//
//	model calls
//	states p q
//	labels a b
//	rule p a -> q push b
//	rule q * -> p pop
//	query fwd forward p [a] -> q [b a] expect reachable witness
//
// A rule label of "*" expands to one rule per declared label.
//
// # Validation
//
// ModelSpec.Validate applies validator struct tags and then checks every
// name reference. All problems are reported together as ValidationErrors,
// with file positions where the format provides them.
//
// # Settings
//
// Settings are read from pdreach.toml and carry the run history database,
// parallelism, the query timeout, policy directories and the telemetry
// configuration. A missing file yields DefaultSettings.
package config
