package pgwire

import "pgkv/internal/errs"

// ErrorResponse field type bytes, the subset PostgreSQL clients parse.
const (
	fieldSeverity     = 'S'
	fieldSQLState     = 'C'
	fieldMessage      = 'M'
	fieldSeverityV    = 'V' // non-localized severity, PG protocol 3.0+
)

// errorFields builds the field list of an ErrorResponse/NoticeResponse
// message from a pgkv error (spec §7: every recoverable error carries a
// SQLSTATE, severity, and message). A plain error that isn't *errs.Error
// (a lower-level I/O or parser failure) is reported as SQLSTATE 58000
// (system_error), severity ERROR.
func errorFields(err error) []byte {
	sev, state, msg := "ERROR", "58000", err.Error()
	if e, ok := err.(*errs.Error); ok {
		state = e.SQLState()
		msg = e.Error()
	}
	b := &msgBuilder{}
	b.byte(fieldSeverity).cstring(sev)
	b.byte(fieldSeverityV).cstring(sev)
	b.byte(fieldSQLState).cstring(state)
	b.byte(fieldMessage).cstring(msg)
	b.byte(0)
	return b.buf
}
