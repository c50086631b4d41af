// Package acl implements the ACL sheet-set data type and evaluator
// (§4.7), grounded in libinfinity's inf-acl.h: a 256-bit (mask,
// perms) pair per account at a node, walked from node to root to
// resolve a single permission.
package acl

import (
	"sort"

	"github.com/zeebo/errs"
)

// Error is the class for ACL data-type violations.
var Error = errs.Class("acl")

// Permission is one bit of the closed, 256-bit-wide permission space.
type Permission int

// The closed set of permissions (§3, §4.7). inf-acl.h's original
// five (subscribe/join/query-account-list/query-acl/set-acl) are
// extended with the node-mutation permissions spec.md also names.
const (
	PermSubscribeSession Permission = iota
	PermJoinUser
	PermQueryAccountList
	PermQueryACL
	PermSetACL
	PermExploreNode
	PermAddSubdirectory
	PermAddDocument
	PermRemoveNode

	permCount
)

var permissionNames = [...]string{
	"subscribe-session",
	"join-user",
	"query-account-list",
	"query-acl",
	"set-acl",
	"explore-node",
	"add-subdirectory",
	"add-document",
	"remove-node",
}

func (p Permission) String() string {
	if p < 0 || int(p) >= len(permissionNames) {
		return "unknown"
	}
	return permissionNames[p]
}

// ParsePermission parses the wire name of a permission (the
// comma-separated list form used by <set-acl>'s mask/perms
// attributes).
func ParsePermission(name string) (Permission, error) {
	for i, n := range permissionNames {
		if n == name {
			return Permission(i), nil
		}
	}
	return 0, Error.New("unknown permission %q", name)
}

// Mask is a 256-bit-wide bitfield over Permission, mirroring
// InfAclMask's four guint64 words.
type Mask [4]uint64

func wordBit(p Permission) (word, bit int) {
	return int(p) / 64, int(p) % 64
}

// Set turns on p's bit.
func (m *Mask) Set(p Permission) {
	w, b := wordBit(p)
	m[w] |= 1 << uint(b)
}

// Clear turns off p's bit.
func (m *Mask) Clear(p Permission) {
	w, b := wordBit(p)
	m[w] &^= 1 << uint(b)
}

// Has reports whether p's bit is set.
func (m Mask) Has(p Permission) bool {
	w, b := wordBit(p)
	return m[w]&(1<<uint(b)) != 0
}

// Empty reports whether no bit is set.
func (m Mask) Empty() bool {
	return m == Mask{}
}

// And returns the bitwise AND of m and other.
func (m Mask) And(other Mask) Mask {
	var out Mask
	for i := range m {
		out[i] = m[i] & other[i]
	}
	return out
}

// Or returns the bitwise OR of m and other.
func (m Mask) Or(other Mask) Mask {
	var out Mask
	for i := range m {
		out[i] = m[i] | other[i]
	}
	return out
}

// Neg returns the bitwise complement of m, restricted to the defined
// permission range.
func (m Mask) Neg() Mask {
	var out Mask
	for i := range m {
		out[i] = ^m[i]
	}
	out.clearUndefined()
	return out
}

func (m *Mask) clearUndefined() {
	for p := Permission(permCount); int(p) < 256; p++ {
		m.Clear(p)
	}
}

// NewMask returns a Mask with exactly the given permissions set.
func NewMask(perms ...Permission) Mask {
	var m Mask
	for _, p := range perms {
		m.Set(p)
	}
	return m
}

// MaskAll has every defined permission bit set.
var MaskAll = NewMask(
	PermSubscribeSession, PermJoinUser, PermQueryAccountList, PermQueryACL,
	PermSetACL, PermExploreNode, PermAddSubdirectory, PermAddDocument, PermRemoveNode,
)

// AccountID identifies an account a sheet applies to. DefaultAccount
// is the baseline sheet consulted when no account-specific sheet
// defines a permission.
type AccountID string

// DefaultAccount is the special account representing the baseline,
// unauthenticated permission set.
const DefaultAccount AccountID = "default"

// Sheet is a single account's (mask, perms) pair at one node.
type Sheet struct {
	Account AccountID
	Mask    Mask
	Perms   Mask
}

// SheetSet is the set of per-account sheets local to one node.
type SheetSet struct {
	sheets map[AccountID]*Sheet
}

// NewSheetSet returns an empty sheet set.
func NewSheetSet() *SheetSet {
	return &SheetSet{sheets: make(map[AccountID]*Sheet)}
}

// Find returns the sheet for account, if one is defined.
func (s *SheetSet) Find(account AccountID) (*Sheet, bool) {
	sh, ok := s.sheets[account]
	return sh, ok
}

// AddSheet returns the sheet for account, creating an empty one
// (mask all-zero, meaning "defines nothing") if none exists yet.
func (s *SheetSet) AddSheet(account AccountID) *Sheet {
	if sh, ok := s.sheets[account]; ok {
		return sh
	}
	sh := &Sheet{Account: account}
	s.sheets[account] = sh
	return sh
}

// RemoveSheet drops account's sheet, if any.
func (s *SheetSet) RemoveSheet(account AccountID) {
	delete(s.sheets, account)
}

// Sheets returns every sheet, sorted by account id for deterministic
// serialisation (the wire form's attribute ordering is irrelevant,
// but a stable Go-level order keeps tests and diffs sane).
func (s *SheetSet) Sheets() []*Sheet {
	out := make([]*Sheet, 0, len(s.sheets))
	for _, sh := range s.sheets {
		out = append(out, sh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Merge returns a new SheetSet combining s with other: for any
// account present in both, other's defined (masked) bits override
// s's; bits other leaves undefined keep s's value. Accounts present
// in only one of the two are copied through unchanged.
func (s *SheetSet) Merge(other *SheetSet) *SheetSet {
	out := NewSheetSet()
	for account, sh := range s.sheets {
		cp := *sh
		out.sheets[account] = &cp
	}
	for account, osh := range other.sheets {
		base, ok := out.sheets[account]
		if !ok {
			cp := *osh
			out.sheets[account] = &cp
			continue
		}
		merged := &Sheet{
			Account: account,
			Mask:    base.Mask.Or(osh.Mask),
			Perms:   base.Perms.And(osh.Mask.Neg()).Or(osh.Perms.And(osh.Mask)),
		}
		out.sheets[account] = merged
	}
	return out
}

// Evaluate resolves permission p for account, walking chain from the
// target node to the root (chain[0] nearest, chain[len-1] the root):
// the first sheet, at each level checking account-specific then
// default, whose mask defines p wins. If no level defines p,
// compiledDefault is returned.
func Evaluate(chain []*SheetSet, account AccountID, p Permission, compiledDefault bool) bool {
	for _, level := range chain {
		if level == nil {
			continue
		}
		if sh, ok := level.Find(account); ok && sh.Mask.Has(p) {
			return sh.Perms.Has(p)
		}
		if sh, ok := level.Find(DefaultAccount); ok && sh.Mask.Has(p) {
			return sh.Perms.Has(p)
		}
	}
	return compiledDefault
}
