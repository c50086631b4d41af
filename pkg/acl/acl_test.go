package acl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/infdserver/pkg/acl"
)

func TestMaskSetHasClear(t *testing.T) {
	var m acl.Mask
	assert.True(t, m.Empty())

	m.Set(acl.PermJoinUser)
	assert.True(t, m.Has(acl.PermJoinUser))
	assert.False(t, m.Has(acl.PermSetACL))
	assert.False(t, m.Empty())

	m.Clear(acl.PermJoinUser)
	assert.False(t, m.Has(acl.PermJoinUser))
}

func TestMaskAndOr(t *testing.T) {
	a := acl.NewMask(acl.PermJoinUser, acl.PermQueryACL)
	b := acl.NewMask(acl.PermQueryACL, acl.PermSetACL)

	and := a.And(b)
	assert.True(t, and.Has(acl.PermQueryACL))
	assert.False(t, and.Has(acl.PermJoinUser))

	or := a.Or(b)
	assert.True(t, or.Has(acl.PermJoinUser))
	assert.True(t, or.Has(acl.PermSetACL))
	assert.True(t, or.Has(acl.PermQueryACL))
}

func TestPermissionStringAndParse(t *testing.T) {
	assert.Equal(t, "set-acl", acl.PermSetACL.String())
	p, err := acl.ParsePermission("add-document")
	require.NoError(t, err)
	assert.Equal(t, acl.PermAddDocument, p)

	_, err = acl.ParsePermission("no-such-permission")
	assert.Error(t, err)
}

func TestSheetSetAddFind(t *testing.T) {
	s := acl.NewSheetSet()
	sh := s.AddSheet("alice")
	sh.Mask.Set(acl.PermJoinUser)
	sh.Perms.Set(acl.PermJoinUser)

	found, ok := s.Find("alice")
	require.True(t, ok)
	assert.True(t, found.Perms.Has(acl.PermJoinUser))

	s.RemoveSheet("alice")
	_, ok = s.Find("alice")
	assert.False(t, ok)
}

func TestSheetSetMergeOverridesDefinedBits(t *testing.T) {
	base := acl.NewSheetSet()
	baseSheet := base.AddSheet("alice")
	baseSheet.Mask = acl.NewMask(acl.PermJoinUser, acl.PermQueryACL)
	baseSheet.Perms = acl.NewMask(acl.PermJoinUser, acl.PermQueryACL)

	overlay := acl.NewSheetSet()
	overlaySheet := overlay.AddSheet("alice")
	overlaySheet.Mask = acl.NewMask(acl.PermQueryACL)
	overlaySheet.Perms = acl.Mask{} // revokes query-acl, leaves join-user alone

	merged := base.Merge(overlay)
	sh, ok := merged.Find("alice")
	require.True(t, ok)
	assert.True(t, sh.Perms.Has(acl.PermJoinUser), "join-user untouched by overlay should survive")
	assert.False(t, sh.Perms.Has(acl.PermQueryACL), "overlay explicitly revoked query-acl")
}

func TestEvaluateWalksNodeToRootPreferringNearest(t *testing.T) {
	root := acl.NewSheetSet()
	rootDefault := root.AddSheet(acl.DefaultAccount)
	rootDefault.Mask.Set(acl.PermJoinUser)
	rootDefault.Perms.Set(acl.PermJoinUser)

	child := acl.NewSheetSet()
	childAlice := child.AddSheet("alice")
	childAlice.Mask.Set(acl.PermJoinUser)
	// childAlice.Perms left false: explicitly denies join-user for alice at this node.

	chain := []*acl.SheetSet{child, root}

	assert.False(t, acl.Evaluate(chain, "alice", acl.PermJoinUser, true),
		"nearest node's account-specific sheet must win over root default")
	assert.True(t, acl.Evaluate(chain, "bob", acl.PermJoinUser, false),
		"bob falls through to root default since nothing nearer defines it for him")
}

func TestEvaluateFallsBackToCompiledDefault(t *testing.T) {
	chain := []*acl.SheetSet{acl.NewSheetSet(), acl.NewSheetSet()}
	assert.True(t, acl.Evaluate(chain, "alice", acl.PermExploreNode, true))
	assert.False(t, acl.Evaluate(chain, "alice", acl.PermExploreNode, false))
}
