package xmlproto

import "encoding/xml"

// Directory control messages (§6.2).

// Welcome is the first message a connection receives, naming the
// protocol version the server speaks.
type Welcome struct {
	XMLName xml.Name `xml:"welcome"`
	Version string   `xml:"version,attr"`
}

// ExploreNode requests that a subdirectory's children be populated.
type ExploreNode struct {
	XMLName xml.Name `xml:"explore-node"`
	Node    uint32   `xml:"node,attr"`
}

// ExploreBegin reports the total child count before streaming each
// child as a separate AddNode fragment, enabling a client progress
// bar (§4.7, §6.2).
type ExploreBegin struct {
	XMLName xml.Name `xml:"explore-begin"`
	Total   int      `xml:"total,attr"`
}

// AddNode announces a new (or, during explore, existing) child node.
type AddNode struct {
	XMLName xml.Name `xml:"add-node"`
	Parent  uint32   `xml:"parent,attr"`
	ID      uint32   `xml:"id,attr"`
	Name    string   `xml:"name,attr"`
	Type    string   `xml:"type,attr"` // "subdirectory" or a leaf plugin type
}

// SyncIn begins a server-side synchronisation of a leaf's full
// content into a freshly created node.
type SyncIn struct {
	XMLName xml.Name `xml:"sync-in"`
	Parent  uint32   `xml:"parent,attr"`
	Name    string   `xml:"name,attr"`
	Type    string   `xml:"type,attr"`
}

// SubscribeSession asks to join the session hosted at Node.
type SubscribeSession struct {
	XMLName xml.Name `xml:"subscribe-session"`
	Node    uint32   `xml:"node,attr"`
}

// SyncBegin reports the total chunk count before a freshly joined
// user's initial buffer content streams as separate SyncChunk
// fragments, mirroring ExploreBegin/ACLAccountListBegin's
// total-then-stream progress pattern (§4.7, §8 scenario 4).
type SyncBegin struct {
	XMLName xml.Name `xml:"sync-begin"`
	Total   int      `xml:"total,attr"`
}

// SyncChunk carries one authored run of the document's content being
// streamed to a newly joined user. One SyncChunk is sent per
// textchunk run, preserving authorship across the sync.
type SyncChunk struct {
	XMLName xml.Name `xml:"sync-chunk"`
	Author  uint32   `xml:"author,attr"`
	Text    string   `xml:",chardata"`
}

// SyncEnd closes the SyncBegin/SyncChunk sequence; the session
// transitions synchronising -> running for the joining user once this
// is received, and any request that arrived while synchronising is
// applied only now.
type SyncEnd struct {
	XMLName xml.Name `xml:"sync-end"`
}

// RemoveNode requests a node's removal.
type RemoveNode struct {
	XMLName xml.Name `xml:"remove-node"`
	Node    uint32   `xml:"node,attr"`
}

// Request transport (§6.2, per session).

// Segment is one authored run within an insert or delete operation's
// payload.
type Segment struct {
	XMLName xml.Name `xml:"segment"`
	Author  uint32   `xml:"author,attr"`
	Text    string   `xml:",chardata"`
}

// Insert is the wire form of otop's insert operation.
type Insert struct {
	XMLName  xml.Name  `xml:"insert"`
	Position uint64    `xml:"pos,attr"`
	Segments []Segment `xml:"segment"`
}

// Delete is the wire form of otop's delete operation.
type Delete struct {
	XMLName  xml.Name  `xml:"delete"`
	Position uint64    `xml:"pos,attr"`
	Length   uint64    `xml:"len,attr"`
	Segments []Segment `xml:"segment"`
}

// Undo carries no operation payload of its own; the server derives
// the inverse from the targeted request.
type Undo struct {
	XMLName xml.Name `xml:"undo"`
}

// Redo mirrors Undo.
type Redo struct {
	XMLName xml.Name `xml:"redo"`
}

// NoOp is the wire form of a caret-move-only tick.
type NoOp struct {
	XMLName xml.Name `xml:"no-op"`
}

// Request is the envelope common to every operation kind; exactly one
// of Insert/Delete/Undo/Redo/NoOp is populated depending on which
// start element the stream parser dispatched on.
type Request struct {
	XMLName xml.Name `xml:"request"`
	User    uint32   `xml:"user,attr"`
	Time    int64    `xml:"time,attr"`
	Vector  string   `xml:"vector,attr"`

	Insert *Insert `xml:"insert"`
	Delete *Delete `xml:"delete"`
	Undo   *Undo   `xml:"undo"`
	Redo   *Redo   `xml:"redo"`
	NoOp   *NoOp   `xml:"no-op"`
}

// User lifecycle messages (§6.2).

// UserJoin announces (or requests, from a client) a user joining the
// session's active roster.
type UserJoin struct {
	XMLName xml.Name `xml:"user-join"`
	ID      uint32   `xml:"id,attr"`
	Name    string   `xml:"name,attr"`
}

// UserStatus reports a change in a user's Lifecycle.
type UserStatus struct {
	XMLName xml.Name `xml:"user-status"`
	ID      uint32   `xml:"id,attr"`
	Status  string   `xml:"status,attr"` // "active" or "unavailable"
}

// UserRejoin carries a user id and the signed token the server sent
// for it right after subscribe-session (see session.RejoinSigner and
// DESIGN.md's cryptopasta grounding). The server checks the token
// against the connection's own binding for that id; it does not
// reattach the id to a different connection.
type UserRejoin struct {
	XMLName xml.Name `xml:"user-rejoin"`
	ID      uint32   `xml:"id,attr"`
	Token   string   `xml:"token,attr"`
}

// ACL messages (§6.2).

// QueryACLAccountList requests the paged account list.
type QueryACLAccountList struct {
	XMLName xml.Name `xml:"query-acl-account-list"`
}

// ACLAccountListBegin reports the total account count before each
// account streams as its own fragment.
type ACLAccountListBegin struct {
	XMLName xml.Name `xml:"acl-account-list-begin"`
	Total   int      `xml:"total,attr"`
}

// ACLAccount is one entry of a paged account-list response, or the
// payload of AddACLAccount.
type ACLAccount struct {
	XMLName xml.Name `xml:"acl-account"`
	ID      string   `xml:"id,attr"`
	Name    string   `xml:"name,attr"`
}

// AddACLAccount requests a new account be registered.
type AddACLAccount struct {
	XMLName xml.Name `xml:"add-acl-account"`
	Name    string   `xml:"name,attr"`
}

// RemoveACLAccount requests an account's removal.
type RemoveACLAccount struct {
	XMLName xml.Name `xml:"remove-acl-account"`
	ID      string   `xml:"id,attr"`
}

// QueryACL requests the sheet set local to a node.
type QueryACL struct {
	XMLName xml.Name `xml:"query-acl"`
	Node    uint32   `xml:"node,attr"`
}

// Sheet is the wire form of one acl.Sheet: mask and perms each a
// comma-separated, order-irrelevant list of permission names (§6.2).
type Sheet struct {
	XMLName xml.Name `xml:"sheet"`
	Account string   `xml:"account,attr"`
	Mask    string   `xml:"mask,attr"`
	Perms   string   `xml:"perms,attr"`
}

// SetACL replaces a node's local sheet set.
type SetACL struct {
	XMLName xml.Name `xml:"set-acl"`
	Node    uint32   `xml:"node,attr"`
	Sheets  []Sheet  `xml:"sheet"`
}

// Errors (§6.2, §7).

// RequestFailed carries the closed (domain, code) pair the core's
// errcode package produces, plus a human-readable message.
type RequestFailed struct {
	XMLName xml.Name `xml:"request-failed"`
	Domain  string   `xml:"domain,attr"`
	Code    int      `xml:"code,attr"`
	Message string   `xml:",chardata"`
}
