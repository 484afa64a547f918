package supervisor

import (
	"os"
	"os/signal"
	"syscall"
)

// InstallSignalHandlers wires OS signals to the supervisor's shutdown
// behavior: SIGTERM and SIGUSR2 request a graceful
// drain (the shared stop signal is set, every stage finishes its
// current cycle and returns); SIGINT and SIGHUP are treated as
// operator intent to stop immediately without draining, and kill the
// process group outright. It returns a function to stop watching,
// which callers should defer.
func (s *Supervisor) InstallSignalHandlers() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				switch sig {
				case syscall.SIGTERM, syscall.SIGUSR2:
					s.logger.Printf("received %s, draining", sig)
					s.Stop.Set()
				case syscall.SIGINT, syscall.SIGHUP:
					s.logger.Printf("received %s, killing process group immediately", sig)
					hardKill()
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// hardKill sends SIGKILL to this process's group. Whether back-end
// plug-ins spawn children outside this group has to be verified per
// back-end; anything they left in the group dies with us.
func hardKill() {
	_ = syscall.Kill(0, syscall.SIGKILL)
}
