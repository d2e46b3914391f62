package update

import (
	"github.com/Aman-CERP/recall/internal/watcher"
)

// action is what a scan does with a path.
type action int

const (
	actionNone action = iota
	actionCreate
	actionModify
	actionDelete
)

func (a action) String() string {
	switch a {
	case actionCreate:
		return "create"
	case actionModify:
		return "modify"
	case actionDelete:
		return "delete"
	default:
		return "none"
	}
}

// coalesce folds next into the pending action for a path:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed); the
//     controller keeps the DELETE when the path is already indexed
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
//
// Anything else keeps the latest action.
func coalesce(pending, next action) action {
	switch pending {
	case actionCreate:
		switch next {
		case actionCreate, actionModify:
			return actionCreate
		case actionDelete:
			return actionNone
		}
	case actionDelete:
		if next == actionCreate || next == actionModify {
			return actionModify
		}
	}
	return next
}

// change is one path-level action derived from a watcher event.
type change struct {
	path string
	act  action
}

// changesFor expands a watcher event into path actions. A rename with a
// known destination is a delete of the old path plus a create of the new
// one; without one only the old path is dropped.
func changesFor(ev watcher.FileEvent) []change {
	switch ev.Operation {
	case watcher.OpCreate:
		if ev.IsDir {
			// the watcher announces the files inside new directories
			return nil
		}
		return []change{{ev.Path, actionCreate}}
	case watcher.OpModify:
		if ev.IsDir {
			return nil
		}
		return []change{{ev.Path, actionModify}}
	case watcher.OpDelete:
		return []change{{ev.Path, actionDelete}}
	case watcher.OpRename:
		if ev.OldPath != "" {
			return []change{{ev.OldPath, actionDelete}, {ev.Path, actionCreate}}
		}
		return []change{{ev.Path, actionDelete}}
	}
	return nil
}
