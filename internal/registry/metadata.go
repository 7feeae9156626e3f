// Package registry talks to the upstream package registry and keeps a
// bounded, TTL-limited in-memory cache of package metadata. Concurrent misses
// for the same package share a single upstream request, and "package does not
// exist" answers are cached like regular hits so typo'd names do not hammer
// the registry.
package registry

// VersionRecord 描述单个已发布版本。
type VersionRecord struct {
	Version    string
	TarballURL string
}

// Metadata 是 registry 返回的包信息，返回后只读。
type Metadata struct {
	Name     string
	Versions map[string]VersionRecord
	DistTags map[string]string
}

// Lookup 返回指定版本记录。
func (m *Metadata) Lookup(version string) (VersionRecord, bool) {
	if m == nil {
		return VersionRecord{}, false
	}
	rec, ok := m.Versions[version]
	return rec, ok
}

// VersionList 返回所有已发布版本号。
func (m *Metadata) VersionList() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Versions))
	for v := range m.Versions {
		out = append(out, v)
	}
	return out
}
