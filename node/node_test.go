package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilesAndDirectories(t *testing.T) {
	n := NewNode("")
	n.AddFile("src/main.c")
	n.AddFile("src/util/str.c")
	n.AddFile("src/util/mem.c")
	n.AddFile("README")
	n.AddFile("src/main.c") // duplicate is a no-op

	assert.Equal(t, []string{"src/main.c", "src/util/str.c", "src/util/mem.c", "README"}, n.Files())
	assert.Equal(t, []string{"src", "src/util"}, n.Directories())
}

func TestRootOnly(t *testing.T) {
	n := NewNode("")
	n.AddFile("README")
	assert.Equal(t, []string{"README"}, n.Files())
	assert.Equal(t, 0, len(n.Directories()))
}
