package collector

import (
	"fmt"
	"net"
	"os"
)

// notifySystemd sends state to the service manager. It reports false
// without error when not running under systemd.
func notifySystemd(state string) (bool, error) {
	socket := os.Getenv("NOTIFY_SOCKET")
	if socket == "" {
		return false, nil
	}
	// Abstract namespace sockets are announced with a leading '@'.
	if socket[0] == '@' {
		socket = "\x00" + socket[1:]
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: socket, Net: "unixgram"})
	if err != nil {
		return false, fmt.Errorf("notify dial: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		return false, fmt.Errorf("notify write: %w", err)
	}
	return true, nil
}
