// Package hostprobe inspects the local machine for the hardware and OS
// facts embedded in telemetry: accelerator class, CUDA toolkit version,
// OS release label, and the Python interpreter version.
//
// Every probe is independently fallible and falls back to its zero
// value; a partially-probed host still reports.
package hostprobe

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DeviceClass is the coarse accelerator classification of the host.
type DeviceClass string

const (
	DeviceCPU    DeviceClass = "cpu"
	DeviceGPU    DeviceClass = "gpu"
	DeviceNeuron DeviceClass = "neuron"
	DeviceEIA    DeviceClass = "eia"
)

const (
	neuronServerPath = "/usr/local/bin/tensorflow_model_server_neuron"
	eiToolsDir       = "/opt/ei_tools"
	cudaLink         = "/usr/local/cuda"
	osReleasePath    = "/etc/os-release"
)

// CommandRunner executes a command and returns its combined stdout, or
// an error on non-zero exit. Injected so tests never shell out.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober collects host facts. The filesystem root and command runner
// are injectable; defaults probe the real machine.
type Prober struct {
	root string
	run  CommandRunner
}

// Option configures a Prober.
type Option func(*Prober)

// WithRoot re-roots all filesystem probes, for tests.
func WithRoot(root string) Option {
	return func(p *Prober) { p.root = root }
}

// WithCommandRunner substitutes the command runner.
func WithCommandRunner(run CommandRunner) Option {
	return func(p *Prober) { p.run = run }
}

// New creates a Prober against the live host.
func New(opts ...Option) *Prober {
	p := &Prober{
		root: "/",
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Descriptor is the immutable snapshot of one run's host facts.
type Descriptor struct {
	DeviceClass        DeviceClass
	AcceleratorVersion string // empty unless a CUDA toolkit is linked
	OSLabel            string // e.g. "ubuntu20.04"; empty parts omitted
	PythonVersion      string // e.g. "3.10.12"; empty if no interpreter
}

// Describe runs every probe once.
func (p *Prober) Describe(ctx context.Context) Descriptor {
	return Descriptor{
		DeviceClass:        p.deviceClass(ctx),
		AcceleratorVersion: p.cudaVersion(),
		OSLabel:            p.osLabel(),
		PythonVersion:      p.PythonVersion(ctx),
	}
}

// deviceClass applies the checks in fixed order; a later applicable
// check overrides an earlier one.
func (p *Prober) deviceClass(ctx context.Context) DeviceClass {
	class := DeviceCPU
	if _, err := p.run(ctx, "nvidia-smi"); err == nil {
		class = DeviceGPU
	}
	if info, err := os.Stat(p.path(neuronServerPath)); err == nil && !info.IsDir() {
		class = DeviceNeuron
	}
	if info, err := os.Stat(p.path(eiToolsDir)); err == nil && info.IsDir() {
		class = DeviceEIA
	}
	return class
}

// cudaVersion reads the /usr/local/cuda symlink target and extracts the
// first major.minor substring from its basename.
func (p *Prober) cudaVersion() string {
	target, err := os.Readlink(p.path(cudaLink))
	if err != nil {
		slog.Debug("cuda link not readable", "err", err)
		return ""
	}
	return firstVersion(filepath.Base(target))
}

// osLabel concatenates the ID and VERSION_ID tokens of /etc/os-release
// with no separator. Either part may be empty.
func (p *Prober) osLabel() string {
	f, err := os.Open(p.path(osReleasePath))
	if err != nil {
		slog.Debug("os-release not readable", "err", err)
		return ""
	}
	defer f.Close()

	var name, version string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if id, ok := parseOSReleaseID(line); ok {
			name = id
		}
		if v, ok := parseOSReleaseVersion(line); ok {
			version = v
		}
	}
	return name + version
}

// PythonVersion asks the interpreter directly; the data point of record
// is the version of the Python environment shipping with the image. It
// is exported separately because the usage ping needs it without the
// rest of the hardware probes.
func (p *Prober) PythonVersion(ctx context.Context) string {
	out, err := p.run(ctx, "python3", "--version")
	if err != nil {
		slog.Debug("python probe failed", "err", err)
		return ""
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return ""
	}
	v := fields[len(fields)-1]
	if len(v) == 0 || !isDigit(v[0]) {
		return ""
	}
	return v
}

func (p *Prober) path(abs string) string {
	return filepath.Join(p.root, abs)
}

// firstVersion scans s for the first digits-dot-digits substring, e.g.
// "cuda-11.3" yields "11.3".
func firstVersion(s string) string {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			continue
		}
		j := i
		for j < len(s) && isDigit(s[j]) {
			j++
		}
		if j >= len(s) || s[j] != '.' || j+1 >= len(s) || !isDigit(s[j+1]) {
			i = j
			continue
		}
		k := j + 1
		for k < len(s) && isDigit(s[k]) {
			k++
		}
		return s[i:k]
	}
	return ""
}

// parseOSReleaseID matches exactly `ID=word`, unquoted.
func parseOSReleaseID(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "ID=")
	if !ok || rest == "" {
		return "", false
	}
	for i := 0; i < len(rest); i++ {
		if !isWordByte(rest[i]) {
			return "", false
		}
	}
	return rest, true
}

// parseOSReleaseVersion matches exactly `VERSION_ID="major.minor"`.
func parseOSReleaseVersion(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, `VERSION_ID="`)
	if !ok {
		return "", false
	}
	v, ok := strings.CutSuffix(rest, `"`)
	if !ok {
		return "", false
	}
	dot := strings.IndexByte(v, '.')
	if dot <= 0 || dot == len(v)-1 {
		return "", false
	}
	if !allDigits(v[:dot]) || !allDigits(v[dot+1:]) {
		return "", false
	}
	return v, true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isWordByte(b byte) bool {
	return b == '_' || isDigit(b) ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
