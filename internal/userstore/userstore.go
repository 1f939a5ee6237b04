// Package userstore holds the RFC 1929 username/password table shared
// between the SOCKS AUTH handler and the management protocol.
//
// Per spec, both readers and writers run on the single selector
// goroutine (AUTH reads during a connection's readiness callback;
// management mutates in response to its own UDP readiness callback, on
// the very same selector), so Table carries no internal locking. Calling
// it from any other goroutine is a bug, not a race to paper over.
package userstore

import "fmt"

// MaxUsers bounds the table size, matching the original args.h's
// MAX_USERS.
const MaxUsers = 10

// Credential is one (name, password) pair.
type Credential struct {
	Name     string
	Password string
}

// Table is an ordered, bounded sequence of credentials.
type Table struct {
	entries []Credential
}

// New builds a Table from an initial credential list (e.g. the CLI's
// name:password arguments), truncated to MaxUsers.
func New(initial []Credential) *Table {
	t := &Table{entries: make([]Credential, 0, MaxUsers)}
	for _, c := range initial {
		_ = t.Add(c.Name, c.Password)
	}
	return t
}

// AuthRequired reports whether USERPASS must be negotiated: true exactly
// when the table is non-empty (spec.md §3).
func (t *Table) AuthRequired() bool { return len(t.entries) > 0 }

// Add appends a credential, replacing any existing entry with the same
// name. Returns an error if the table is full and name is not already
// present.
func (t *Table) Add(name, password string) error {
	for i, c := range t.entries {
		if c.Name == name {
			t.entries[i].Password = password
			return nil
		}
	}
	if len(t.entries) >= MaxUsers {
		return fmt.Errorf("userstore: table full (max %d users)", MaxUsers)
	}
	t.entries = append(t.entries, Credential{Name: name, Password: password})
	return nil
}

// Del removes a credential by name. Returns false if name was not found.
func (t *Table) Del(name string) bool {
	for i, c := range t.entries {
		if c.Name == name {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Check reports whether (name, password) matches an entry exactly, in
// table order, first match wins (spec.md §4.5).
func (t *Table) Check(name, password string) bool {
	for _, c := range t.entries {
		if c.Name == name && c.Password == password {
			return true
		}
	}
	return false
}

// Names returns the registered usernames in table order.
func (t *Table) Names() []string {
	out := make([]string, len(t.entries))
	for i, c := range t.entries {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of registered users.
func (t *Table) Len() int { return len(t.entries) }
