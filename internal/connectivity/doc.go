// Package connectivity tracks whether the backend is reachable.
//
// A Monitor holds a binary online/offline state fed by two sources: a
// platform signal (SetPlatformOnline, or a Prober standing in for one) and
// explicit downgrades from failed network attempts (ReportFailure). The
// platform signal alone is not trusted, since it can report online while
// requests still fail.
//
// Every change of state is delivered to each Subscription in order. A
// subscriber that stops reading never blocks the monitor: each one owns an
// unbounded FIFO.
package connectivity
