// Package resolver decides how a parsed package specifier maps onto the
// published versions of a package: exact versions are served directly while
// dist-tags and semver ranges become redirects to an exact version.
package resolver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/errkind"
	"github.com/any-hub/pkg-cdn/internal/pkgurl"
	"github.com/any-hub/pkg-cdn/internal/registry"
)

// Kind 表示解析结果类型。
type Kind int

const (
	// Serve 表示版本精确命中，可直接拉取并返回文件。
	Serve Kind = iota + 1
	// Redirect 表示需要跳转到精确版本的规范路径。
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Serve:
		return "serve"
	case Redirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Decision 是版本解析的输出。
type Decision struct {
	Kind     Kind
	Version  string
	Record   registry.VersionRecord
	Location string
}

// Resolve 依次尝试：精确版本 → dist-tag → semver 范围最大满足版本。
func Resolve(spec pkgurl.Spec, meta *registry.Metadata) (Decision, error) {
	if meta == nil {
		return Decision{}, notFound(spec)
	}

	if rec, ok := meta.Lookup(spec.VersionSpec); ok {
		return Decision{Kind: Serve, Version: spec.VersionSpec, Record: rec}, nil
	}

	if target, ok := meta.DistTags[spec.VersionSpec]; ok {
		if rec, ok := meta.Lookup(target); ok {
			return redirect(spec, target, rec), nil
		}
	}

	if version, ok := MaxSatisfying(meta.VersionList(), spec.VersionSpec); ok {
		rec, _ := meta.Lookup(version)
		return redirect(spec, version, rec), nil
	}

	return Decision{}, notFound(spec)
}

func redirect(spec pkgurl.Spec, version string, rec registry.VersionRecord) Decision {
	return Decision{
		Kind:     Redirect,
		Version:  version,
		Record:   rec,
		Location: spec.WithVersion(version).URL(),
	}
}

func notFound(spec pkgurl.Spec) error {
	err := errors.New(errkind.VersionNotFound, fmt.Sprintf("package %s@%s", spec.FullName(), spec.VersionSpec))
	err = errors.WithContext(err, "package", spec.FullName())
	return errors.WithContext(err, "version", spec.VersionSpec)
}

// MaxSatisfying 返回满足范围的最大版本；范围语法非法或无匹配时返回 false。
// 预发布版本仅在范围本身包含预发布标记时参与匹配。
func MaxSatisfying(versions []string, rangeSpec string) (string, bool) {
	constraint, err := semver.NewConstraint(rangeSpec)
	if err != nil {
		return "", false
	}

	var (
		best    *semver.Version
		bestRaw string
	)
	for _, raw := range versions {
		v, err := semver.StrictNewVersion(raw)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	return bestRaw, best != nil
}
