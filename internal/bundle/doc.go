// Package bundle maintains task grouping: membership queries, bundle
// assignment, and dissolution. Status application across a bundle is owned
// by the lifecycle orchestrator; this package only keeps the linkage
// fields consistent.
package bundle
