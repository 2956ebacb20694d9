// Package telemetry builds and delivers the two best-effort signals a
// deep learning image emits at startup: a usage ping against the
// per-region bucket and a descriptive tag on the instance itself.
package telemetry

import (
	"fmt"
	"strings"
)

// Framework names the deep learning framework shipped in the image.
type Framework string

const (
	FrameworkTensorFlow Framework = "tensorflow"
	FrameworkMXNet      Framework = "mxnet"
	FrameworkPyTorch    Framework = "pytorch"
)

// ImageType distinguishes container images from AMI-class images.
type ImageType string

const (
	ImageTraining  ImageType = "training"
	ImageInference ImageType = "inference"
	ImageDLAMI     ImageType = "dlami"
	ImageAMI       ImageType = "ami"
	ImageDocker    ImageType = "docker"
)

// PackageType is how the framework was installed.
type PackageType string

const (
	PackageConda PackageType = "conda"
	PackagePip   PackageType = "pip"
)

// Config is the caller-supplied description of the image. It is
// validated once, before dispatch, and read-only afterwards.
type Config struct {
	Framework        Framework
	FrameworkVersion string
	ImageType        ImageType
	PackageType      PackageType
}

// NormalizeConfig strips pytorch build-metadata suffixes from the
// framework version and validates every field. PyTorch 1.10+ reports
// versions like "1.13.0+cpu", "1.13.0+cu117" or "2.0.0a0+git1a2b3c4";
// only the bare version goes into telemetry.
func NormalizeConfig(cfg Config) (Config, error) {
	if cfg.Framework == FrameworkPyTorch {
		cfg.FrameworkVersion = stripPyTorchSuffix(cfg.FrameworkVersion)
	}

	switch cfg.Framework {
	case FrameworkTensorFlow, FrameworkMXNet, FrameworkPyTorch:
	default:
		return cfg, fmt.Errorf("unknown framework %q", cfg.Framework)
	}
	switch cfg.ImageType {
	case ImageTraining, ImageInference, ImageDLAMI, ImageAMI, ImageDocker:
	default:
		return cfg, fmt.Errorf("unknown image type %q", cfg.ImageType)
	}
	switch cfg.PackageType {
	case PackageConda, PackagePip:
	default:
		return cfg, fmt.Errorf("unknown package type %q", cfg.PackageType)
	}
	if !ValidFrameworkVersion(cfg.FrameworkVersion) {
		return cfg, fmt.Errorf("framework version %q is not X.Y or X.Y.Z with an optional -rcN suffix", cfg.FrameworkVersion)
	}
	return cfg, nil
}

// ValidFrameworkVersion reports whether v is two or three dot-separated
// numeric components with an optional single-digit -rcN suffix.
func ValidFrameworkVersion(v string) bool {
	if base, rc, found := strings.Cut(v, "-"); found {
		if len(rc) != 3 || rc[:2] != "rc" || !isDigit(rc[2]) {
			return false
		}
		v = base
	}
	parts := strings.Split(v, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return false
	}
	for _, part := range parts {
		if !allDigits(part) {
			return false
		}
	}
	return true
}

// stripPyTorchSuffix removes a recognized build suffix ("+cpu",
// "+cuNNN", or "a0+git" plus a 7-character hash) when the remainder is
// itself a valid version. Anything else passes through untouched.
func stripPyTorchSuffix(v string) string {
	if base, ok := strings.CutSuffix(v, "+cpu"); ok && ValidFrameworkVersion(base) {
		return base
	}
	if i := strings.LastIndex(v, "+cu"); i > 0 {
		if digits := v[i+len("+cu"):]; len(digits) == 3 && allDigits(digits) {
			if base := v[:i]; ValidFrameworkVersion(base) {
				return base
			}
		}
	}
	if i := strings.Index(v, "a0+git"); i > 0 {
		hash := v[i+len("a0+git"):]
		if len(hash) == 7 && allWord(hash) {
			if base := v[:i]; ValidFrameworkVersion(base) {
				return base
			}
		}
	}
	return v
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

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

func allWord(s string) bool {
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b != '_' && !isDigit(b) && (b < 'a' || b > 'z') && (b < 'A' || b > 'Z') {
			return false
		}
	}
	return s != ""
}
