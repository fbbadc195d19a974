package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/assetdesk/internal/filemanager"
)

func TestSplitDest(t *testing.T) {
	entries := []filemanager.Entry{{Name: "my report.txt", Type: filemanager.TypeFile}}

	name, dest := splitDest("my report.txt", entries)
	assert.Equal(t, "my report.txt", name)
	assert.Equal(t, "my report.txt", dest)

	name, dest = splitDest("a.txt /tmp/b.txt", entries)
	assert.Equal(t, "a.txt", name)
	assert.Equal(t, "/tmp/b.txt", dest)

	name, dest = splitDest("a.txt", nil)
	assert.Equal(t, "a.txt", name)
	assert.Equal(t, "a.txt", dest)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "notes.txt", baseName(`C:\Users\bob\notes.txt`))
	assert.Equal(t, "notes.txt", baseName("/home/bob/notes.txt"))
}
