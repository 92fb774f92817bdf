package workers

import "github.com/a-artmv/proxy/internal/proxylog"

// warnNoisy is shared by every per-connection worker for the class of
// warning that can repeat once per step on a socket stuck hitting the
// same system-call error (a reset peer, a full send buffer that never
// drains): capped at 20/s so one bad connection cannot drown out the
// rest of the log.
var warnNoisy = proxylog.NewLimitedWarn(20)
