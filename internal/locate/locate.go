package locate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// Marker files identifying a worker installation. The bundle marker sits next
// to a packaged Node runtime; the script marker identifies a source tree.
const (
	BundleMarker = "engram-bundle.cjs"
	ScriptMarker = "bin/engram.js"
)

// Environment describes the places a worker installation may live.
// Zero-value fields skip their candidates.
type Environment struct {
	ResourceDir string // packaged application resources
	OverrideDir string // explicit worker source tree
	ExePath     string // running executable, origin of the upward marker walk
	WorkDir     string // current working directory
}

// CommandSpec is a resolved worker invocation.
type CommandSpec struct {
	Path string   // executable to run
	Args []string // arguments, script path first for interpreted variants
	Env  []string // KEY=VALUE overrides appended to the parent environment
	Dir  string   // working directory, empty to inherit
}

// SystemEnvironment builds an Environment from the running process plus the
// configured directories.
func SystemEnvironment(resourceDir, overrideDir string) Environment {
	exe, _ := os.Executable()
	wd, _ := os.Getwd()
	return Environment{
		ResourceDir: resourceDir,
		OverrideDir: overrideDir,
		ExePath:     exe,
		WorkDir:     wd,
	}
}

// Locate resolves the worker command line for the given port. The bundled
// runtime is preferred; a source tree run with the system node is the
// fallback. Every candidate check is a plain existence test. The returned
// error means no installation was found anywhere and the start attempt must
// be treated as failed.
func Locate(env Environment, port int) (CommandSpec, error) {
	if dir, ok := findBundleDir(env); ok {
		return bundleCommand(dir, port), nil
	}
	if root, ok := findScriptRoot(env); ok {
		return scriptCommand(root, port), nil
	}
	return CommandSpec{}, fmt.Errorf(
		"worker not found: no %s or %s under resource, override, executable, or working directories",
		BundleMarker, ScriptMarker)
}

// findBundleDir looks for the packaged runtime bundle: first inside the
// resource directory (packaged installs nest a resources/ subdirectory,
// flattened layouts do not), then relative to the working directory for
// development builds that prepared a bundle.
func findBundleDir(env Environment) (string, bool) {
	if env.ResourceDir != "" {
		sub := filepath.Join(env.ResourceDir, "resources")
		if exists(filepath.Join(sub, BundleMarker)) {
			return sub, true
		}
		if exists(filepath.Join(env.ResourceDir, BundleMarker)) {
			return env.ResourceDir, true
		}
	}
	if env.WorkDir != "" {
		dev := filepath.Join(env.WorkDir, "resources")
		if exists(filepath.Join(dev, BundleMarker)) {
			return dev, true
		}
	}
	return "", false
}

// findScriptRoot looks for a worker source tree by its script marker:
// under the resource directory, walking up from the executable, in the
// override directory, and finally in the working directory.
func findScriptRoot(env Environment) (string, bool) {
	if env.ResourceDir != "" {
		candidate := filepath.Join(env.ResourceDir, "engram")
		if hasScriptMarker(candidate) {
			return candidate, true
		}
	}
	if env.ExePath != "" {
		dir := filepath.Dir(env.ExePath)
		for {
			if hasScriptMarker(dir) {
				return dir, true
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if env.OverrideDir != "" && hasScriptMarker(env.OverrideDir) {
		return env.OverrideDir, true
	}
	if env.WorkDir != "" && hasScriptMarker(env.WorkDir) {
		return env.WorkDir, true
	}
	return "", false
}

// bundleCommand runs the packaged Node runtime against the bundle script.
// The bundled runtime needs NODE_PATH pointing at the shipped node_modules
// and the platform library path for the native onnxruntime dylibs.
func bundleCommand(dir string, port int) CommandSpec {
	nodeModules := filepath.Join(dir, "node_modules")
	dylibDir := filepath.Join(nodeModules, "onnxruntime-node", "bin", "napi-v3", runtime.GOOS, ortArch())
	return CommandSpec{
		Path: filepath.Join(dir, nodeBinaryName()),
		Args: []string{filepath.Join(dir, BundleMarker), "start", "--port", strconv.Itoa(port)},
		Env: []string{
			"NODE_PATH=" + nodeModules,
			libraryPathVar() + "=" + dylibDir,
		},
	}
}

// scriptCommand runs the source tree's entry script with the system node.
func scriptCommand(root string, port int) CommandSpec {
	script := filepath.Join(root, "bin", "engram.js")
	return CommandSpec{
		Path: "node",
		Args: []string{script, "start", "--port", strconv.Itoa(port)},
	}
}

func hasScriptMarker(root string) bool {
	return exists(filepath.Join(root, "bin", "engram.js"))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// nodeBinaryName returns the bundled runtime's file name, which carries the
// platform target triple.
func nodeBinaryName() string {
	return "node-" + targetTriple()
}

func targetTriple() string {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	switch runtime.GOOS {
	case "darwin":
		return arch + "-apple-darwin"
	case "linux":
		return arch + "-unknown-linux-gnu"
	default:
		return arch
	}
}

// ortArch returns the onnxruntime directory name for the current architecture.
func ortArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	default:
		return "arm64"
	}
}

// libraryPathVar names the dynamic linker search path variable.
func libraryPathVar() string {
	if runtime.GOOS == "darwin" {
		return "DYLD_LIBRARY_PATH"
	}
	return "LD_LIBRARY_PATH"
}
