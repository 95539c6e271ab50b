// Package planner expands catalog targets into an acyclic graph of stages.
//
// Every target yields an apply stage, optional pre and post stages chained
// around it, and one copy stage per declared secret copy. Target-level
// dependencies link the last stage of the referenced target to the first
// stage of the dependent one. Graphs are immutable; replanning builds a new
// graph that callers reconcile against the previous one with Diff.
package planner
