package coordination

import (
	"context"

	"github.com/xraph/schedcore/task"
)

// empty is the no-op Port used when coordination is disabled. The
// registry calls through EMPTY exactly as it would a real mirror; it
// never branches on whether coordination is present.
type empty struct{}

// EMPTY is the shared no-op coordination port.
var EMPTY Port = empty{}

func (empty) PublishStart(context.Context, string, string, task.Snapshot)         {}
func (empty) PublishStopping(context.Context, string, string, task.Snapshot)      {}
func (empty) PublishStopped(context.Context, string, string, bool, task.Snapshot) {}
