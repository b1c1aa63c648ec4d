// Package policy evaluates Rego policies against a declared resource set
// before provisioning starts. Policies come from two sources: built-in rules
// shipped with gantry and .rego/.json files loaded from user paths. A policy
// package exposes a deny set; every member becomes a violation, and error or
// critical severity blocks the run.
package policy
