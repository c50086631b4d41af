// Package directory implements the node tree (§4.7): the hierarchical
// namespace of subdirectories and documents, node-id allocation,
// per-node ACL sheets, the account table, and the operations gated by
// acl.Evaluate at each node. It breaks the directory/session/
// connection reference cycle noted in §9 with an arena-index design:
// the directory owns nodes and sessions by id, and a removed node's
// id is simply retired rather than tombstoned separately, since the
// id allocator never reuses it.
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/dgryski/go-rendezvous"
	"github.com/satori/go.uuid"
	"go.uber.org/zap"

	"github.com/dreamware/infdserver/pkg/accountcache"
	"github.com/dreamware/infdserver/pkg/acl"
	"github.com/dreamware/infdserver/pkg/errcode"
	"github.com/dreamware/infdserver/pkg/metrics"
	"github.com/dreamware/infdserver/pkg/session"
	"github.com/dreamware/infdserver/pkg/storage"
	"github.com/dreamware/infdserver/pkg/textchunk"
)

// NodeID identifies a node in the tree. The zero value never names a
// live node; the root is always id 1. Ids are allocated by a
// monotonic, process-wide counter and are never reused.
type NodeID uint32

// Kind tags whether a node is an interior subdirectory or a leaf
// document.
type Kind int

const (
	KindSubdirectory Kind = iota
	KindLeaf
)

// Node is one entry in the tree.
type Node struct {
	ID         NodeID
	ParentID   NodeID
	Name       string
	Kind       Kind
	PluginType string
	Explored   bool
	Children   []NodeID
	ACL        *acl.SheetSet
}

// Account is an entry in the directory's account table. Account ids
// are UUIDs (unlike per-session numeric user ids, §4.7), since
// accounts outlive any single session and are not tied to a
// connection's lifetime.
type Account struct {
	ID   acl.AccountID
	Name string
}

// Authenticator verifies a connection's claimed identity before an
// account id is trusted for ACL evaluation. Certificate parsing and
// password-challenge mechanics are specified only at this interface
// boundary (§9, infinoted-creds.c); the directory never implements
// them itself.
type Authenticator interface {
	Authenticate(account acl.AccountID, credential []byte) error
}

// Option configures a Directory at construction time.
type Option func(*Directory)

func WithLogger(l *zap.Logger) Option { return func(d *Directory) { d.logger = l } }

// WithHostingBuckets configures rendezvous hashing across n named
// worker buckets, which bucketFor uses to map a node id to a stable
// bucket. SubscribeSession does not consult this assignment: every
// session is hosted in this Directory's own session table.
func WithHostingBuckets(buckets ...string) Option {
	return func(d *Directory) {
		if len(buckets) == 0 {
			return
		}
		d.buckets = append([]string(nil), buckets...)
		d.hasher = rendezvous.New(d.buckets, rendezvousHash)
	}
}

func WithAuthenticator(a Authenticator) Option { return func(d *Directory) { d.auth = a } }

// WithSessionOptions applies opts to every session.Session this
// Directory instantiates from here on.
func WithSessionOptions(opts ...session.Option) Option {
	return func(d *Directory) { d.sessionOptions = opts }
}

// WithAccountCache installs a redis-backed cache in front of the
// in-memory account table, for deployments running more than one
// server process against a shared storage back-end (§4.7). A miss or
// a cache error always falls back to the in-memory table, which
// remains the source of truth.
func WithAccountCache(c *accountcache.Cache) Option {
	return func(d *Directory) { d.accountCache = c }
}

func rendezvousHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// Directory owns the whole node tree, the per-node-hosted session
// table, and the account table.
type Directory struct {
	mu sync.Mutex

	logger *zap.Logger
	auth   Authenticator

	backend storage.Backend

	nodes      map[NodeID]*Node
	sessions   map[NodeID]*session.Session
	nextNodeID NodeID

	accounts     map[acl.AccountID]*Account
	accountCache *accountcache.Cache

	buckets []string
	hasher  *rendezvous.Rendezvous

	// compiledDefaults supplies acl.Evaluate's final fallback per
	// permission when no sheet at any level defines it.
	compiledDefaults acl.Mask

	// sessionOptions is applied to every session.Session this
	// Directory instantiates, e.g. to install a shared
	// ot.NewVdiffLimiter CheckFunc or autosave interval.
	sessionOptions []session.Option
}

// New returns a Directory backed by backend, with an auto-created
// root subdirectory (id 1).
func New(backend storage.Backend, opts ...Option) *Directory {
	d := &Directory{
		logger:   zap.NewNop(),
		backend:  backend,
		nodes:    make(map[NodeID]*Node),
		sessions: make(map[NodeID]*session.Session),
		accounts: make(map[acl.AccountID]*Account),
		// Every permission defaults to allowed in the absence of any
		// configured sheet; restrictions come only from sheets set on
		// the tree.
		compiledDefaults: acl.MaskAll,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.nextNodeID = 1
	root := &Node{ID: d.allocID(), ParentID: 0, Name: "", Kind: KindSubdirectory, Explored: true, ACL: acl.NewSheetSet()}
	d.nodes[root.ID] = root
	return d
}

func (d *Directory) allocID() NodeID {
	id := d.nextNodeID
	d.nextNodeID++
	return id
}

// RootID is the always-present root subdirectory's id.
const RootID NodeID = 1

// Node looks up a node by id. A removed node's id always misses,
// since RemoveNode deletes its table entry outright rather than
// tombstoning it separately: the monotonic allocator guarantees the
// id is never handed to a new node, so this lookup failing is
// already indistinguishable from "never existed" in the way that
// matters to callers (§9).
func (d *Directory) Node(id NodeID) (*Node, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	return n, ok
}

// NodeCount reports how many nodes currently exist in the tree, for
// an exporter to mirror onto pkg/metrics.DirectoryNodeCount.
func (d *Directory) NodeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nodes)
}

// AutosaveAll triggers Session.Autosave on every currently hosted
// session, intended to be driven by a periodic timer on the event
// loop.
func (d *Directory) AutosaveAll() {
	d.mu.Lock()
	sessions := make([]*session.Session, 0, len(d.sessions))
	for _, sess := range d.sessions {
		sessions = append(sessions, sess)
	}
	d.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Autosave(); err != nil {
			d.logger.Warn("autosave failed", zap.Error(err))
		}
	}
}

// Path returns id's slash-separated path from the root, matching the
// path given to storage.Backend for that node, or ("", false) if id
// does not exist.
func (d *Directory) Path(id NodeID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return "", false
	}
	return d.path(n), true
}

func (d *Directory) path(n *Node) string {
	if n.ID == RootID {
		return ""
	}
	parent, ok := d.nodes[n.ParentID]
	if !ok {
		return n.Name
	}
	parentPath := d.path(parent)
	if parentPath == "" {
		return n.Name
	}
	return parentPath + "/" + n.Name
}

func (d *Directory) chain(n *Node) []*acl.SheetSet {
	chain := make([]*acl.SheetSet, 0, 4)
	for cur := n; cur != nil; {
		chain = append(chain, cur.ACL)
		if cur.ID == RootID {
			break
		}
		parent, ok := d.nodes[cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	return chain
}

// aclCheck gates every directory operation: acl-check(connection ->
// account, node, permission), walking node to root (§4.7).
func (d *Directory) aclCheck(n *Node, account acl.AccountID, p acl.Permission) error {
	allowed := acl.Evaluate(d.chain(n), account, p, d.compiledDefaults.Has(p))
	if !allowed {
		metrics.ACLDenials.Inc()
		return errcode.New(errcode.DomainAuthentication, errcode.AuthNotAuthorised,
			"account %q lacks permission %q at node %d", account, p, n.ID)
	}
	return nil
}

// Explore populates node's child list from storage. A node that has
// already been explored in this process fails with already-explored.
func (d *Directory) Explore(id NodeID, account acl.AccountID) ([]*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no such node %d", id)
	}
	if n.Kind != KindSubdirectory {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNotSubdirectory, "node %d is not a subdirectory", id)
	}
	if err := d.aclCheck(n, account, acl.PermExploreNode); err != nil {
		return nil, err
	}
	if n.Explored {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryAlreadyExplored, "node %d already explored", id)
	}

	entries, err := d.backend.ReadSubdirectory(d.path(n))
	if err != nil {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryFailed, "reading subdirectory: %v", err)
	}
	children := make([]*Node, 0, len(entries))
	for _, e := range entries {
		kind := KindSubdirectory
		if e.Kind == storage.EntryLeaf {
			kind = KindLeaf
		}
		child := &Node{ID: d.allocID(), ParentID: id, Name: e.Name, Kind: kind, PluginType: e.PluginType, ACL: acl.NewSheetSet()}
		d.nodes[child.ID] = child
		n.Children = append(n.Children, child.ID)
		children = append(children, child)
	}
	n.Explored = true
	return children, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r == '/' {
			return false
		}
	}
	return true
}

// AddSubdirectory creates a new subdirectory under parent.
func (d *Directory) AddSubdirectory(parent NodeID, name string, account acl.AccountID) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addChild(parent, name, KindSubdirectory, "", account, acl.PermAddSubdirectory)
}

// AddDocument creates a new leaf of pluginType under parent.
func (d *Directory) AddDocument(parent NodeID, name, pluginType string, account acl.AccountID) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addChild(parent, name, KindLeaf, pluginType, account, acl.PermAddDocument)
}

func (d *Directory) addChild(parentID NodeID, name string, kind Kind, pluginType string, account acl.AccountID, perm acl.Permission) (*Node, error) {
	parent, ok := d.nodes[parentID]
	if !ok {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no such node %d", parentID)
	}
	if parent.Kind != KindSubdirectory {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNotSubdirectory, "node %d is not a subdirectory", parentID)
	}
	if err := d.aclCheck(parent, account, perm); err != nil {
		return nil, err
	}
	if !validName(name) {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryInvalidName, "invalid name %q", name)
	}
	for _, cid := range parent.Children {
		if d.nodes[cid].Name == name {
			return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNodeExists, "node %q already exists under %d", name, parentID)
		}
	}

	child := &Node{ID: d.allocID(), ParentID: parentID, Name: name, Kind: kind, PluginType: pluginType, ACL: acl.NewSheetSet()}
	if kind == KindSubdirectory {
		child.Explored = true
		if err := d.backend.CreateSubdirectory(d.path(child)); err != nil {
			return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryFailed, "creating subdirectory: %v", err)
		}
	}
	d.nodes[child.ID] = child
	parent.Children = append(parent.Children, child.ID)
	return child, nil
}

// RemoveNode removes id, recursively for a subdirectory. The root may
// never be removed. Any hosted session is closed first.
func (d *Directory) RemoveNode(id NodeID, account acl.AccountID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no such node %d", id)
	}
	if id == RootID {
		return errcode.New(errcode.DomainDirectory, errcode.DirectoryRootRemoveAttempt, "cannot remove root")
	}
	if err := d.aclCheck(n, account, acl.PermRemoveNode); err != nil {
		return err
	}

	backendKind := storage.EntryLeaf
	if n.Kind == KindSubdirectory {
		backendKind = storage.EntrySubdirectory
	}
	if err := d.backend.RemoveNode(backendKind, d.path(n)); err != nil {
		return errcode.New(errcode.DomainDirectory, errcode.DirectoryFailed, "removing node: %v", err)
	}

	d.removeSubtree(n)

	if parent, ok := d.nodes[n.ParentID]; ok {
		for i, cid := range parent.Children {
			if cid == id {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (d *Directory) removeSubtree(n *Node) {
	for _, cid := range n.Children {
		if child, ok := d.nodes[cid]; ok {
			d.removeSubtree(child)
		}
	}
	if sess, ok := d.sessions[n.ID]; ok {
		_ = sess.Close()
		delete(d.sessions, n.ID)
	}
	delete(d.nodes, n.ID)
}

// persister adapts the storage backend to session.Persister for one
// leaf node.
type persister struct {
	backend    storage.Backend
	pluginType string
	path       string
}

func (p persister) WriteSession(text string) error {
	return p.backend.WriteSession(p.pluginType, p.path, []byte(text))
}

// bucketFor reports which hosting bucket a node id is assigned to
// under rendezvous hashing, or "" if no buckets are configured.
func (d *Directory) bucketFor(id NodeID) string {
	if d.hasher == nil {
		return ""
	}
	var key [4]byte
	key[0] = byte(id)
	key[1] = byte(id >> 8)
	key[2] = byte(id >> 16)
	key[3] = byte(id >> 24)
	return d.hasher.Lookup(string(key[:]))
}

// SubscribeSession loads or instantiates the session hosted at node,
// adding conn as a participant. If the node has no loaded session,
// its content is read from storage via the plugin registered for its
// type.
func (d *Directory) SubscribeSession(id NodeID, account acl.AccountID, join session.JoinParams) (*session.Session, *session.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return nil, nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no such node %d", id)
	}
	if n.Kind != KindLeaf {
		return nil, nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNotLeaf, "node %d is not a document", id)
	}
	if err := d.aclCheck(n, account, acl.PermSubscribeSession); err != nil {
		return nil, nil, err
	}

	sess, ok := d.sessions[id]
	if !ok {
		path := d.path(n)
		content, err := d.backend.ReadSession(n.PluginType, path)
		var buffer *textchunk.Chunk
		if err != nil {
			buffer = textchunk.New()
		} else {
			buffer = textchunk.NewWithText(string(content), 0)
		}
		opts := append([]session.Option{
			session.WithLogger(d.logger),
			session.WithPersister(persister{backend: d.backend, pluginType: n.PluginType, path: path}),
		}, d.sessionOptions...)
		sess = session.New(buffer, opts...)
		sess.MarkRunning()
		d.sessions[id] = sess
	}

	if err := d.aclCheck(n, account, acl.PermJoinUser); err != nil {
		return sess, nil, err
	}
	u, err := sess.JoinUser(join)
	if err != nil {
		return sess, nil, err
	}
	return sess, u, nil
}

// QueryACL returns the sheet set local to node (not the resolved
// chain), so the caller can render exactly what is configured there.
func (d *Directory) QueryACL(id NodeID, account acl.AccountID) (*acl.SheetSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no such node %d", id)
	}
	if err := d.aclCheck(n, account, acl.PermQueryACL); err != nil {
		return nil, err
	}
	return n.ACL, nil
}

// SetACL replaces node's local sheet set and persists it.
func (d *Directory) SetACL(id NodeID, account acl.AccountID, sheets *acl.SheetSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no such node %d", id)
	}
	if err := d.aclCheck(n, account, acl.PermSetACL); err != nil {
		return err
	}
	if err := d.backend.WriteACL(d.path(n), sheets); err != nil {
		return errcode.New(errcode.DomainDirectory, errcode.DirectoryFailed, "writing acl: %v", err)
	}
	n.ACL = sheets
	return nil
}

// AccountListPage is one page of a QueryAccountList progress stream,
// mirroring infc-acl-account-list-request.c's total/current framing
// (§6.2's explore-begin pattern, applied to accounts).
type AccountListPage struct {
	Total   int
	Current int
	Account *Account
}

// QueryAccountList streams the account table in a stable order,
// reporting progress against the total count, and a requesting
// account needs query-account-list permission at the root.
func (d *Directory) QueryAccountList(account acl.AccountID) ([]AccountListPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	root := d.nodes[RootID]
	if err := d.aclCheck(root, account, acl.PermQueryAccountList); err != nil {
		return nil, err
	}

	all := make([]*Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	pages := make([]AccountListPage, len(all))
	for i, a := range all {
		pages[i] = AccountListPage{Total: len(all), Current: i + 1, Account: a}
	}
	return pages, nil
}

// AddAccount registers a new account with a fresh UUID-derived id.
func (d *Directory) AddAccount(name string, requester acl.AccountID) (*Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := d.nodes[RootID]
	if err := d.aclCheck(root, requester, acl.PermSetACL); err != nil {
		return nil, err
	}
	raw, err := uuid.NewV4()
	if err != nil {
		return nil, errcode.New(errcode.DomainDirectory, errcode.DirectoryFailed, "generating account id: %v", err)
	}
	id := acl.AccountID(raw.String())
	a := &Account{ID: id, Name: name}
	d.accounts[id] = a
	if d.accountCache != nil {
		if err := d.accountCache.Set(context.Background(), accountcache.Account{ID: a.ID, Name: a.Name}); err != nil {
			d.logger.Warn("accountcache set failed", zap.Error(err))
		}
	}
	return a, nil
}

// RemoveAccount drops an account from the table. Its sheets, if any,
// are left in place; they simply no longer resolve to a live
// account, matching how a removed node's id is left unresolved rather
// than actively swept.
func (d *Directory) RemoveAccount(id acl.AccountID, requester acl.AccountID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := d.nodes[RootID]
	if err := d.aclCheck(root, requester, acl.PermSetACL); err != nil {
		return err
	}
	delete(d.accounts, id)
	if d.accountCache != nil {
		if err := d.accountCache.Invalidate(context.Background(), id); err != nil {
			d.logger.Warn("accountcache invalidate failed", zap.Error(err))
		}
	}
	return nil
}

// Account looks up an account by id, preferring the cache (if
// configured) over the in-memory table so a multi-process deployment
// sharing one storage back-end doesn't bottleneck every lookup on
// this Directory's own mutex. A cache miss always falls back to the
// in-memory table, which remains the source of truth; a resulting hit
// there is written back to the cache for the next lookup.
func (d *Directory) Account(id acl.AccountID) (*Account, bool) {
	if d.accountCache != nil {
		if cached, ok := d.accountCache.Get(context.Background(), id); ok {
			return &Account{ID: cached.ID, Name: cached.Name}, true
		}
	}

	d.mu.Lock()
	a, ok := d.accounts[id]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	if d.accountCache != nil {
		if err := d.accountCache.Set(context.Background(), accountcache.Account{ID: a.ID, Name: a.Name}); err != nil {
			d.logger.Warn("accountcache set failed", zap.Error(err))
		}
	}
	return a, true
}
