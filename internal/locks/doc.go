// Package locks arbitrates exclusive claims on tasks. A single conditional
// upsert against the lock table is the only mechanism: zero rows affected
// means another user holds the claim.
package locks
