package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sanityml/sanityml"
	"github.com/sanityml/sanityml/util"
)

// modelExts are the serialized-model extensions the walker collects. The
// demultiplexer sorts out what each file actually contains; the walker only
// decides what is worth looking at.
var modelExts = map[string]bool{
	".pkl":         true,
	".pickle":      true,
	".pt":          true,
	".pth":         true,
	".bin":         true,
	".ckpt":        true,
	".joblib":      true,
	".dill":        true,
	".h5":          true,
	".hdf5":        true,
	".safetensors": true,
}

// skipDirs are directory names never worth descending into.
var skipDirs = map[string]bool{
	".git":               true,
	".hg":                true,
	"__pycache__":        true,
	"node_modules":       true,
	".ipynb_checkpoints": true,
	"venv":               true,
	".venv":              true,
}

type requirementsFile struct {
	path string
	data []byte
}

// collect walks the tree rooted at root and loads every scannable artifact.
// A root that is a single file is scanned directly.
func collect(root string) ([]sanityml.Artifact, []requirementsFile, error) {
	var ignore *regexp.Regexp
	if len(opts.ignore) != 0 {
		var err error
		if ignore, err = util.CompileGlobs(opts.ignore); err != nil {
			return nil, nil, fmt.Errorf("invalid --ignore: %w", err)
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		return collectFile(root, filepath.Base(root))
	}

	var (
		artifacts    []sanityml.Artifact
		requirements []requirementsFile
	)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		// One unreadable file or directory never stops the rest of the tree
		// from being scanned.
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDirs[d.Name()] || (ignore != nil && rel != "." && ignore.MatchString(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore != nil && ignore.MatchString(rel) {
			return nil
		}

		as, rs, err := collectFile(path, rel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", rel, err)
			return nil
		}
		artifacts = append(artifacts, as...)
		requirements = append(requirements, rs...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return artifacts, requirements, nil
}

func collectFile(path, rel string) ([]sanityml.Artifact, []requirementsFile, error) {
	class, isReqs := classifyPath(rel)
	if class == sanityml.ClassUnknown && !isReqs {
		return nil, nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	if isReqs {
		return nil, []requirementsFile{{path: rel, data: data}}, nil
	}

	if opts.verbose && !opts.jsonOut {
		fmt.Fprintf(os.Stderr, "found %s (%s, sha256 %s)\n", rel, humanBytes(len(data)), util.SHA256(data)[:12])
	}
	return []sanityml.Artifact{{Path: rel, Class: class, Data: data}}, nil, nil
}

func classifyPath(rel string) (class sanityml.Class, requirements bool) {
	base := filepath.Base(rel)
	if base == "requirements.txt" || strings.HasPrefix(base, "requirements-") && strings.HasSuffix(base, ".txt") {
		return sanityml.ClassUnknown, true
	}

	switch ext := strings.ToLower(filepath.Ext(base)); {
	case ext == ".py" && !opts.noSource:
		return sanityml.ClassSource, false
	case ext == ".ipynb" && !opts.noNotebook:
		return sanityml.ClassNotebook, false
	case modelExts[ext] && !opts.noModels:
		return sanityml.ClassModel, false
	}
	return sanityml.ClassUnknown, false
}
