// Package cache owns the on-disk layout of extracted package archives under
// StoragePath/packages/<name>-<version>. It answers whether an archive
// directory has been fully published (its package.json is present) and
// offers atomic single-file writes (temp file + rename) for artefacts derived
// from an archive, such as Bower bundles. Archive directories themselves are
// written by the fetch package and never removed by this process.
package cache
