// Package store provides the SQLite store of record for tasks, challenges,
// locks, reviews, and action logs. It owns the schema, connection setup,
// and the task row persistence shared by every engine component; sibling
// packages run their own queries through the Querier it exposes so lock,
// review, and selection SQL stays with the component that owns it.
package store
