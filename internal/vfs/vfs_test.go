package vfs

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Kind(t *testing.T) {
	root := &Node{ID: "r", IsFolder: true}
	file := &Node{ID: "f", ParentID: "r"}

	assert.True(t, root.IsRoot())
	assert.False(t, root.IsFile())
	assert.False(t, file.IsRoot())
	assert.True(t, file.IsFile())
}

func TestNode_CloneIsDeep(t *testing.T) {
	n := &Node{ID: "a", Private: map[string]string{"k": "v"}}
	c := n.Clone()
	c.Private["k"] = "changed"
	c.Name = "other"

	assert.Equal(t, "v", n.Private["k"])
	assert.Empty(t, n.Name)

	var nilNode *Node
	assert.Nil(t, nilNode.Clone())
}

func TestChangeConstructors(t *testing.T) {
	n := &Node{ID: "x"}

	up := Upsert(n)
	assert.False(t, up.Removed)
	assert.Equal(t, "x", up.ID)
	assert.Same(t, n, up.Node)

	rm := Removal("y")
	assert.True(t, rm.Removed)
	assert.Equal(t, "y", rm.ID)
	assert.Nil(t, rm.Node)
}

func TestErrors_Classification(t *testing.T) {
	structural := fmt.Errorf("wrapped: %w", &StructuralError{Op: "trash", Err: ErrRootNode})
	assert.ErrorIs(t, structural, ErrRootNode)
	assert.NotErrorIs(t, structural, ErrConflict)

	existing := &Node{ID: "1", Name: "a.txt"}
	conflict := fmt.Errorf("wrapped: %w", &ConflictError{Node: existing})
	assert.ErrorIs(t, conflict, ErrConflict)

	ce, ok := IsConflict(conflict)
	require.True(t, ok)
	assert.Same(t, existing, ce.Node)

	_, ok = IsConflict(errors.New("plain"))
	assert.False(t, ok)

	cfg := &ConfigurationError{Subject: "driver", Err: errors.New("unknown")}
	assert.ErrorIs(t, cfg, ErrConfiguration)
	assert.Contains(t, cfg.Error(), "driver")

	invalid := &TransferError{Invalid: true, Err: errors.New("too big")}
	transient := &TransferError{Err: errors.New("reset")}
	assert.ErrorIs(t, invalid, ErrTransferInvalid)
	assert.NotErrorIs(t, transient, ErrTransferInvalid)
}

func TestConflictError_Messages(t *testing.T) {
	assert.Contains(t, (&ConflictError{Node: &Node{ID: "1", Name: "a"}}).Error(), `"a"`)
	assert.Contains(t, (&ConflictError{Path: "/tmp/x"}).Error(), "/tmp/x")
	assert.Equal(t, ErrConflict.Error(), (&ConflictError{}).Error())
}

func TestHasher(t *testing.T) {
	h := NewHasher(sha256.New())
	h.Update([]byte("hello"))

	want := sha256.Sum256([]byte("hello"))
	assert.Equal(t, want[:], h.Digest())
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", HexDigest(h))
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"a/b/", "/a/b"},
		{"/a/./b/../c", "/a/c"},
		{"//a//b", "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanPath(tt.in))
		})
	}
}

func TestSplitPath(t *testing.T) {
	assert.Empty(t, SplitPath("/"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/b/"))
}

func TestIsBareName(t *testing.T) {
	assert.True(t, IsBareName("file.txt"))
	assert.True(t, IsBareName(".."))
	assert.False(t, IsBareName("a/b"))
	assert.False(t, IsBareName("/a"))
	assert.False(t, IsBareName(""))
}

func TestValidName(t *testing.T) {
	for _, name := range []string{"file.txt", "...", ".hidden", "a b"} {
		assert.True(t, ValidName(name), name)
	}

	for _, name := range []string{"", ".", "..", "a/b", "/a", "a/../../x"} {
		assert.False(t, ValidName(name), name)
	}
}

func TestJoinRelative(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"/a", "c/d.txt", "/a/c/d.txt"},
		{"/a/b", "../x", "/a/x"},
		{"/a", "./c/./d", "/a/c/d"},
		{"/", "../../x", "/x"},
		{"/a", "c/", "/a/c"},
	}

	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, JoinRelative(tt.base, tt.rel))
		})
	}
}
