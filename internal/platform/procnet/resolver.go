// SPDX-License-Identifier: MIT

// Package procnet resolves the process id associated with a TCP connection
// by cross-referencing /proc/net/tcp{,6} inode numbers against /proc/<pid>/fd
// symlinks. Best effort only: anything that doesn't parse or isn't
// permitted (container sandboxing, non-Linux hosts) yields 0, which matches
// no configured pid or process name, so a configured process filter
// declines to decrypt.
package procnet

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Resolver looks up the owning process id for a local TCP connection.
type Resolver struct{}

// NewResolver returns a Resolver. Safe to share across goroutines; it holds
// no state of its own.
func NewResolver() *Resolver { return &Resolver{} }

// PID returns the id of the process owning the TCP socket whose local port
// is localPort, or 0 if it cannot be determined.
func (Resolver) PID(localPort int) int {
	if runtime.GOOS != "linux" {
		return 0
	}
	inode, ok := findInode(localPort)
	if !ok {
		return 0
	}
	pid, ok := findPIDForInode(inode)
	if !ok {
		return 0
	}
	return pid
}

func findInode(localPort int) (string, bool) {
	portHex := fmt.Sprintf("%04X", localPort)
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		f, err := os.Open(path) // #nosec G304
		if err != nil {
			continue
		}
		inode, ok := scanForPort(f, portHex)
		_ = f.Close()
		if ok {
			return inode, true
		}
	}
	return "", false
}

func scanForPort(f *os.File, portHex string) (string, bool) {
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue // header line
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		localAddr := fields[1] // "ADDR:PORT" in hex
		parts := strings.SplitN(localAddr, ":", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[1], portHex) {
			continue
		}
		return fields[9], true // inode column
	}
	return "", false
}

func findPIDForInode(inode string) (int, bool) {
	target := "socket:[" + inode + "]"
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join("/proc", entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if link == target {
				return pid, true
			}
		}
	}
	return 0, false
}

// ProcessName returns the executable name for pid, or "" if unavailable.
func ProcessName(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm")) // #nosec G304
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
