package sqlgen

import "errors"

// ErrSQLInvalid is wrapped into every validator rejection: unparseable SQL,
// non-SELECT statements, disallowed tables/functions/columns, or anything
// else the hardened validator refuses to execute.
var ErrSQLInvalid = errors.New("generated SQL failed validation")

// ErrSQLCapacity is returned when a validated, executable query would
// exceed the configured row or time cap.
var ErrSQLCapacity = errors.New("SQL query exceeds capacity limits")
