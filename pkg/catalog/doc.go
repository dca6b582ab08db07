// Package catalog loads workflow definitions and SLA policies from
// YAML files. Definitions are read-only inputs to the engine: states,
// transitions with guards and action lists, and timer policies with
// start/stop rules. Rules are embedded as canonical DSL documents and
// validated at load time so a malformed rule never reaches runtime
// evaluation. The catalog can watch its source paths and hot-reload
// on change.
package catalog
