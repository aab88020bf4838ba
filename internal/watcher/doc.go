// Package watcher keeps the active account pointer in step with the host.
//
// A Watcher polls the process monitor on the configured interval and uses
// fsnotify on the host data directory to notice when the state database is
// rewritten. After each settled write it reads the logged-in email, derives
// the identifier and, when a snapshot for it exists, marks it active. This
// catches accounts changed from inside the host rather than through
// agswitch.
//
// The watcher can also run detached: StartDaemon re-executes the binary
// with "watch --daemon-child", records the child PID, and StopDaemon
// terminates it again.
//
//	w, err := watcher.New(monitor, live, repo, g, cfg.Host.PollInterval, log)
//	if err != nil {
//		return err
//	}
//	return w.Run(ctx)
package watcher
