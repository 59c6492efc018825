package wire

import (
	"fmt"

	"github.com/relaydb/pgwire/codes"
	pgerror "github.com/relaydb/pgwire/errors"
)

// Portal is a bound execution of a PreparedStatement: its parameter
// values, negotiated result-column formats, and (once Execute has run at
// least once) the materialized row set plus a cursor into it so a
// row-limited Execute can suspend and resume on a later Execute of the
// same portal.
type Portal struct {
	Name      string
	Statement *PreparedStatement
	Params    []any
	Columns   Columns

	executed bool
	rows     [][]any
	cursor   int
	tag      string
	updated  int64
	hasRows  bool
}

// Bind materializes result rows into the portal the first time it is
// executed; later Execute calls on the same portal just advance cursor.
func (p *Portal) bind(rows [][]any, hasRows bool, tag string, updated int64) {
	p.rows = rows
	p.hasRows = hasRows
	p.tag = tag
	p.updated = updated
	p.executed = true
	p.cursor = 0
}

// Next returns up to maxRows rows starting at the portal's cursor, and
// whether more rows remain after this slice (i.e. the caller should send
// PortalSuspended instead of CommandComplete). maxRows == 0 means "no
// limit, return every remaining row."
func (p *Portal) Next(maxRows int32) (rows [][]any, suspended bool) {
	remaining := p.rows[p.cursor:]
	if maxRows <= 0 || int(maxRows) >= len(remaining) {
		p.cursor = len(p.rows)
		return remaining, false
	}
	rows = remaining[:maxRows]
	p.cursor += int(maxRows)
	return rows, true
}

// Exhausted reports whether every row has been sent to the client.
func (p *Portal) Exhausted() bool { return p.cursor >= len(p.rows) }

// PortalRegistry tracks a session's open portals. The unnamed portal is a
// single overwritable slot that Sync invalidates; named portals persist
// until explicitly closed.
type PortalRegistry struct {
	named map[string]*Portal
	anon  *Portal
}

// NewPortalRegistry returns an empty registry.
func NewPortalRegistry() *PortalRegistry {
	return &PortalRegistry{named: make(map[string]*Portal)}
}

// Store registers portal under its Name. A non-empty name already bound
// is rejected with SQLSTATE 42P03 (Close it first).
func (r *PortalRegistry) Store(portal *Portal) error {
	if portal.Name == "" {
		r.anon = portal
		return nil
	}
	if _, exists := r.named[portal.Name]; exists {
		err := fmt.Errorf("portal %q already exists", portal.Name)
		return pgerror.WithCode(err, codes.DuplicateCursor)
	}
	r.named[portal.Name] = portal
	return nil
}

// Get looks up a portal by name.
func (r *PortalRegistry) Get(name string) (*Portal, bool) {
	if name == "" {
		if r.anon == nil {
			return nil, false
		}
		return r.anon, true
	}
	p, ok := r.named[name]
	return p, ok
}

// Close removes a named portal; closing the unnamed portal clears it.
func (r *PortalRegistry) Close(name string) {
	if name == "" {
		r.anon = nil
		return
	}
	delete(r.named, name)
}

// InvalidateUnnamed discards the unnamed portal, per the rule that Sync
// implicitly closes it.
func (r *PortalRegistry) InvalidateUnnamed() {
	r.anon = nil
}

// CloseAll clears every portal, named and unnamed, for session teardown.
func (r *PortalRegistry) CloseAll() {
	r.anon = nil
	r.named = make(map[string]*Portal)
}
