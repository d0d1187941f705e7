package qrelay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const maxAdminPasswordBytes = 32

// RunAdmin reads newline-delimited commands from r and writes results to w
// until EOF, driving the account/device maintenance operations a non-daemon
// invocation exposes (§6.1):
//
//	createaccount <mail> <password>
//	removeaccount <user_id>
//	adddevice <user_id> <device_key>
//	removedevice <user_id> <device_key>
func RunAdmin(ctx context.Context, store *Store, r io.Reader, w io.Writer) error {
	session, err := store.NewSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if err := dispatchAdminCommand(ctx, session, fields, w); err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func dispatchAdminCommand(ctx context.Context, session *Session, fields []string, w io.Writer) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "createaccount":
		if len(fields) != 3 {
			return fmt.Errorf("usage: createaccount <mail> <password>")
		}
		mail, password := fields[1], fields[2]
		if len(password) > maxAdminPasswordBytes {
			return fmt.Errorf("password exceeds %d bytes", maxAdminPasswordBytes)
		}
		blob, err := HashPassword([]byte(password))
		if err != nil {
			return err
		}
		id, err := session.CreateAccount(ctx, mail, blob)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "created user_id=%d\n", id)
		return nil

	case "removeaccount":
		if len(fields) != 2 {
			return fmt.Errorf("usage: removeaccount <user_id>")
		}
		id, err := parseUserID(fields[1])
		if err != nil {
			return err
		}
		if err := session.RemoveAccount(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok")
		return nil

	case "adddevice":
		if len(fields) != 3 {
			return fmt.Errorf("usage: adddevice <user_id> <device_key>")
		}
		id, err := parseUserID(fields[1])
		if err != nil {
			return err
		}
		if err := session.AddDevice(ctx, id, fields[2]); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok")
		return nil

	case "removedevice":
		if len(fields) != 3 {
			return fmt.Errorf("usage: removedevice <user_id> <device_key>")
		}
		id, err := parseUserID(fields[1])
		if err != nil {
			return err
		}
		if err := session.RemoveDevice(ctx, id, fields[2]); err != nil {
			return err
		}
		fmt.Fprintln(w, "ok")
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseUserID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid user_id %q: %w", s, err)
	}
	return uint32(n), nil
}
