// Package manifest loads tool manifests from JSON or YAML files and reloads
// them when the file changes.
//
// A manifest is either a bare list of tool specs or an object with "tools" and
// optional "fillerPhrases". In both formats "fillers: null" marks a tool that
// must never speak a filler.
//
// Usage:
//
//	m, err := manifest.Load("tools.yaml")
//	if err != nil {
//		return err
//	}
//	_ = resolver.Configure(m.ResolverConfig())
//
//	w, _ := manifest.NewWatcher(manifest.WatcherConfig{
//		Path:     "tools.yaml",
//		OnChange: func(m *manifest.Manifest) { _ = resolver.Configure(m.ResolverConfig()) },
//	})
//	_ = w.Start()
//	defer w.Stop()
package manifest
