package wire

import (
	"fmt"

	"github.com/lib/pq/oid"

	"github.com/relaydb/pgwire/classifier"
	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

// PreparedStatement is a named (or anonymous) Parse result, holding
// everything a later Bind/Describe/Execute needs without reparsing.
type PreparedStatement struct {
	Name      string
	Statement classifier.Statement
	ParamOIDs []oid.Oid
	Columns   Columns
}

// StatementRegistry tracks a session's prepared statements. Per spec, the
// anonymous statement (empty name) is a single overwritable slot; named
// statements persist until explicitly closed or the session ends, and
// declaring a name that is already in use is an error.
type StatementRegistry struct {
	named map[string]*PreparedStatement
	anon  *PreparedStatement
}

// NewStatementRegistry returns an empty registry.
func NewStatementRegistry() *StatementRegistry {
	return &StatementRegistry{named: make(map[string]*PreparedStatement)}
}

// Store registers stmt under its Name. An empty name overwrites the
// anonymous slot unconditionally; a non-empty name that is already bound
// is rejected with SQLSTATE 42P05 (the client must Close it first).
func (r *StatementRegistry) Store(stmt *PreparedStatement) error {
	if stmt.Name == "" {
		r.anon = stmt
		return nil
	}
	if _, exists := r.named[stmt.Name]; exists {
		err := fmt.Errorf("prepared statement %q already exists", stmt.Name)
		return pgerror.WithCode(err, codes.DuplicatePreparedStatement)
	}
	r.named[stmt.Name] = stmt
	return nil
}

// Get looks up a statement by name, returning ok=false if unknown.
func (r *StatementRegistry) Get(name string) (*PreparedStatement, bool) {
	if name == "" {
		if r.anon == nil {
			return nil, false
		}
		return r.anon, true
	}
	s, ok := r.named[name]
	return s, ok
}

// Close removes a named statement; closing the anonymous statement clears
// the slot. Closing an unknown name is a no-op, per protocol.
func (r *StatementRegistry) Close(name string) {
	if name == "" {
		r.anon = nil
		return
	}
	delete(r.named, name)
}

// CloseAll clears every statement, named and anonymous, for session
// teardown.
func (r *StatementRegistry) CloseAll() {
	r.anon = nil
	r.named = make(map[string]*PreparedStatement)
}
