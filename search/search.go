// Package search implements the search-dir resolver (C6): turning a
// namespec or a plugin name into a filesystem path to hand to
// pathcache, per §4.2.
package search

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"

	"github.com/go-eld/eldlink/input"
	"github.com/go-eld/eldlink/pathcache"
)

// Resolver turns a namespec (bare library name or literal ":"-prefixed
// form) into a resolved filesystem path, trying each search-dir tier
// in order (§4.2: "first hit wins").
type Resolver struct {
	fs afero.Fs

	searchDirs []string
	rpaths     []string // already $ORIGIN-expanded
	ldLibPath  []string // from LD_LIBRARY_PATH / PATH
	sysroot    string
	programDir string
}

// New builds a Resolver. searchDirs are explicit -L directories (in
// order), rpaths are -rpath entries with $ORIGIN not yet expanded,
// sysroot prefixes every absolute search dir, and programDir is the
// directory containing the running linker binary (the base for
// $ORIGIN and for locating plugin config directories).
func New(fs afero.Fs, searchDirs, rpaths []string, sysroot, programDir string) *Resolver {
	r := &Resolver{
		fs:         fs,
		searchDirs: searchDirs,
		sysroot:    sysroot,
		programDir: programDir,
	}
	for _, p := range rpaths {
		r.rpaths = append(r.rpaths, expandOrigin(p, programDir))
	}
	r.ldLibPath = envSearchPath()
	return r
}

// envSearchPath returns the supplementary search path from the
// environment: LD_LIBRARY_PATH on non-Windows, PATH on Windows (§4.2).
func envSearchPath() []string {
	var raw string
	if runtime.GOOS == "windows" {
		raw = os.Getenv("PATH")
	} else {
		raw = os.Getenv("LD_LIBRARY_PATH")
	}
	if raw == "" {
		return nil
	}
	return strings.Split(raw, string(os.PathListSeparator))
}

func expandOrigin(path, programDir string) string {
	if programDir == "" {
		return path
	}
	return strings.ReplaceAll(path, "$ORIGIN", programDir)
}

// candidateNames returns the file names to try for a namespec of the
// given type, in preference order (§4.2).
func candidateNames(spec string, typ input.FileType, static bool) []string {
	switch typ {
	case input.TypeDynamicLibrary:
		if static {
			return []string{"lib" + spec + ".a"}
		}
		return []string{"lib" + spec + ".so", "lib" + spec + ".a"}
	case input.TypeArchive:
		return []string{"lib" + spec + ".a"}
	default:
		return []string{spec}
	}
}

// Resolve finds the filesystem path for a namespec of the given input
// type. typ should be input.TypeDynamicLibrary unless attrs.Static is
// set, in which case the caller should pass input.TypeArchive (the
// input-action Builder already makes this choice when it creates the
// Input; Resolve mirrors it here for the ".so falls back to .a" rule).
func (r *Resolver) Resolve(spec string, typ input.FileType, static bool) (string, error) {
	if strings.HasPrefix(spec, ":") {
		literal := spec[1:]
		if path, ok := r.search([]string{literal}); ok {
			return path, nil
		}
		return "", &NotFoundError{Spec: spec, Tried: []string{literal}}
	}

	names := candidateNames(spec, typ, static)
	var tried []string
	for _, name := range names {
		if path, ok := r.search([]string{name}); ok {
			return path, nil
		}
		tried = append(tried, name)
	}
	return "", &NotFoundError{Spec: spec, Tried: tried}
}

// search tries every name against every directory tier, in the §4.2
// order: explicit -L dirs, then RPATH, then LD_LIBRARY_PATH/PATH.
func (r *Resolver) search(names []string) (string, bool) {
	tiers := [][]string{r.searchDirs, r.rpaths, r.ldLibPath}
	for _, dirs := range tiers {
		for _, dir := range dirs {
			for _, name := range names {
				candidate := filepath.Join(r.applySysroot(dir), name)
				if ok, err := afero.Exists(r.fs, candidate); err == nil && ok {
					return candidate, true
				}
			}
		}
	}
	return "", false
}

func (r *Resolver) applySysroot(dir string) string {
	if r.sysroot != "" && filepath.IsAbs(dir) {
		return filepath.Join(r.sysroot, dir)
	}
	return dir
}

// ResolvePluginConfig resolves a plugin's configuration file under
// <program dir>/../etc/ELD/Plugins/<plugin-name>/ (§4.2).
func (r *Resolver) ResolvePluginConfig(pluginName, fileName string) (string, error) {
	if r.programDir == "" {
		return "", &NotFoundError{Spec: fileName, Tried: nil}
	}
	dir := filepath.Join(r.programDir, "..", "etc", "ELD", "Plugins", pluginName)
	candidate := filepath.Join(dir, fileName)
	if ok, err := afero.Exists(r.fs, candidate); err == nil && ok {
		return candidate, nil
	}
	return "", &NotFoundError{Spec: fileName, Tried: []string{candidate}}
}

// Load resolves spec then reads it through cache, returning the shared
// MemoryArea.
func (r *Resolver) Load(cache *pathcache.Cache, spec string, typ input.FileType, static bool) (*pathcache.MemoryArea, error) {
	path, err := r.Resolve(spec, typ, static)
	if err != nil {
		return nil, err
	}
	return cache.Load(path)
}

// NotFoundError reports that a namespec could not be resolved to any
// existing file.
type NotFoundError struct {
	Spec  string
	Tried []string
}

func (e *NotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return "cannot find " + e.Spec
	}
	return "cannot find " + e.Spec + " (tried " + strings.Join(e.Tried, ", ") + ")"
}
