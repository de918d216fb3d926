// Package ptyrun is the illustrative PTY-spawning CLI path: it runs a
// command under a real PTY, announces the resulting session to the
// Session Manager over internal/ipc, and bridges bytes in both
// directions — local terminal input/output, and remote {input,...} frames
// arriving from SM. It stands in for the out-of-scope "PTY spawner"
// system, just enough to exercise the manager end-to-end.
package ptyrun

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/agent-command/sessionrelay/internal/ipc"
)

// Bridge owns one PTY-attached child process and its rendezvous connection
// to SM.
type Bridge struct {
	ptmx *os.File
	cmd  *exec.Cmd
	ipc  *ipc.Client

	closeOnce sync.Once
	closed    chan struct{}
}

// Run starts command under a PTY, announces it to SM at socketPath as
// session id, and blocks until the command exits or the rendezvous
// connection is lost. Local terminal I/O is bridged transparently.
func Run(socketPath, id, name, cwd, projectDir string, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("ptyrun: empty command")
	}

	client, err := ipc.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("ptyrun: dial %s: %w", socketPath, err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("ptyrun: start pty: %w", err)
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	b := &Bridge{ptmx: ptmx, cmd: cmd, ipc: client, closed: make(chan struct{})}

	if err := client.AnnounceSessionStart(id, name, cwd, projectDir, command); err != nil {
		b.Close()
		return fmt.Errorf("ptyrun: announce session_start: %w", err)
	}

	go b.copyPtyToStdout()
	go b.copyStdinToPty()
	go b.relayRemoteInput()

	err = cmd.Wait()
	_ = client.AnnounceSessionEnd(id)
	b.Close()
	return err
}

func (b *Bridge) copyPtyToStdout() {
	if _, err := io.Copy(os.Stdout, b.ptmx); err != nil {
		select {
		case <-b.closed:
		default:
			log.Printf("ptyrun: pty read error: %v", err)
		}
	}
	b.Close()
}

func (b *Bridge) copyStdinToPty() {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := b.ptmx.Write(buf[:n]); werr != nil {
				b.Close()
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// relayRemoteInput forwards {type:"input", text} frames SM sends (i.e.
// remote-originated keystrokes) into the PTY, exactly as a local keystroke
// would arrive.
func (b *Bridge) relayRemoteInput() {
	for {
		text, err := b.ipc.ReadInput()
		if err != nil {
			b.Close()
			return
		}
		if _, err := b.ptmx.Write([]byte(text)); err != nil {
			log.Printf("ptyrun: write remote input to pty: %v", err)
		}
	}
}

func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		_ = b.ptmx.Close()
		if b.cmd.Process != nil {
			_ = b.cmd.Process.Kill()
		}
		_ = b.ipc.Close()
	})
}
