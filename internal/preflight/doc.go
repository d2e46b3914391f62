// Package preflight checks that the host can run recall before indexing
// or watching starts.
//
// The package validates:
//   - Free disk space and write access in the data directory
//   - The open file limit, which bounds how many directories can be watched
//   - Whether the configured embedder answers
//   - Whether the external extraction tools are on PATH
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithEmbedder(e))
//	results := checker.RunAll(ctx, dataDir)
//	if preflight.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
