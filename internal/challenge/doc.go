// Package challenge models the work-groups that tasks belong to, including
// the priority rules used to keep each task's cached priority tier current.
package challenge
