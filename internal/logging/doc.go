// Package logging provides opt-in file-based logging with rotation for recall.
// When the --debug flag is set, structured JSON logs are written to
// ~/.recall/logs/ for troubleshooting indexing and query behavior.
//
// Without --debug, only warnings and errors reach stderr.
package logging
