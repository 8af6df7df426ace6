package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanityml/sanityml"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}

func TestCollectClassifiesTree(t *testing.T) {
	root := writeTree(t, map[string]string{
		"train.py":              "import torch\n",
		"notebooks/eda.ipynb":   `{"cells": []}`,
		"models/weights.pkl":    "\x80\x02N.",
		"requirements.txt":      "numpy==1.24.0\n",
		"requirements-dev.txt":  "pytest==8.0.0\n",
		"README.md":             "docs\n",
		"__pycache__/train.pyc": "binary\n",
	})

	artifacts, requirements, err := collect(root)
	require.NoError(t, err)

	classes := map[string]sanityml.Class{}
	for _, a := range artifacts {
		classes[a.Path] = a.Class
	}
	assert.Equal(t, map[string]sanityml.Class{
		"train.py":            sanityml.ClassSource,
		"notebooks/eda.ipynb": sanityml.ClassNotebook,
		"models/weights.pkl":  sanityml.ClassModel,
	}, classes)

	require.Len(t, requirements, 2)
}

func TestCollectSkipsUnreadableFiles(t *testing.T) {
	root := writeTree(t, map[string]string{
		"ok.py": "x = 1\n",
	})
	// A dangling symlink fails os.ReadFile for any uid; the walk must carry
	// on past it.
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "broken.pkl")))

	artifacts, _, err := collect(root)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "ok.py", artifacts[0].Path)
}

func TestCollectSingleFileRootFailsOnUnreadable(t *testing.T) {
	_, _, err := collect(filepath.Join(t.TempDir(), "missing.pkl"))
	require.Error(t, err)
}
