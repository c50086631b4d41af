package errcode_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dreamware/infdserver/pkg/errcode"
)

func TestNewAndAs(t *testing.T) {
	err := errcode.New(errcode.DomainDirectory, errcode.DirectoryNoSuchNode, "no node %d", 42)
	assert.EqualError(t, err, "directory: no node 42")

	got, ok := errcode.As(err)
	assert.True(t, ok)
	assert.Equal(t, errcode.DomainDirectory, got.Domain)
	assert.Equal(t, errcode.DirectoryNoSuchNode, got.Code)
}

func TestAsFalseForPlainError(t *testing.T) {
	_, ok := errcode.As(fmt.Errorf("boom"))
	assert.False(t, ok)
}

func TestHas(t *testing.T) {
	err := errcode.New(errcode.DomainOT, errcode.OTUndoUnavailable, "no do to undo")
	assert.True(t, errcode.Has(errcode.DomainOT, err))
	assert.False(t, errcode.Has(errcode.DomainUser, err))
}
