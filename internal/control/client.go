package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	dialTimeout     = 5 * time.Second
	maxResponseSize = 16 << 20
)

// ActionError is returned by Call when the server answered ok=false.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("control action %q: %s", e.Action, e.Message)
}

// Call runs action on the server at socketPath and decodes its result into
// out. out may be nil.
func Call(ctx context.Context, socketPath, action string, out any) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := encMode.NewEncoder(conn).Encode(Request{Action: action}); err != nil {
		return fmt.Errorf("send %q: %w", action, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}

	var resp Response
	if err := decMode.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&resp); err != nil {
		return fmt.Errorf("read %q response: %w", action, err)
	}
	if !resp.OK {
		return &ActionError{Action: action, Message: resp.Error}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := decMode.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %q result: %w", action, err)
		}
	}
	return nil
}
