// Package watcher reports file system changes under a root directory.
//
// HybridWatcher uses fsnotify where it can and falls back to polling
// snapshots where it cannot (network mounts, some container volumes).
// Events are emitted one at a time, unbatched; debouncing and coalescing
// belong to the consumer.
//
// Usage:
//
//	w, err := watcher.NewHybridWatcher(watcher.Options{IgnorePatterns: []string{"*.tmp"}})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, "/path/to/notes") }()
//
//	for ev := range w.Events() {
//	    switch ev.Operation {
//	    case watcher.OpCreate, watcher.OpModify:
//	        // re-index ev.Path
//	    case watcher.OpDelete, watcher.OpRename:
//	        // drop ev.Path
//	    }
//	}
package watcher
