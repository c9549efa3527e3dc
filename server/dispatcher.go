package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/epokhe/bitdbd/core"
)

// dispatch parses and executes a single request line against db,
// writing its response to w. It returns a non-nil error only when the
// connection should be torn down (reading a PUT payload or writing the
// response failed, or the store returned an unexpected error); all
// protocol-level failures are written as responses, not returned as
// errors, though they're logged via core.ErrProtocol for visibility.
func dispatch(db *core.DB, line string, r *bufio.Reader, w io.Writer, log *zap.SugaredLogger) error {
	parts := strings.SplitN(line, " ", 2)
	verb := strings.ToLower(parts[0])

	switch verb {
	case "get":
		if len(parts) < 2 || parts[1] == "" {
			log.Debugw("protocol error", "err", fmt.Errorf("%w: GET missing key", core.ErrProtocol))
			return writeResponse(w, "-NOKEY\r\n")
		}
		return dispatchGet(db, parts[1], w)

	case "put":
		return dispatchPut(db, parts, r, w, log)

	default:
		log.Debugw("protocol error", "err", fmt.Errorf("%w: unrecognised verb %q", core.ErrProtocol, verb))
		return writeResponse(w, "-BADTOKEN\r\n")
	}
}

func dispatchGet(db *core.DB, key string, w io.Writer) error {
	val, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) || errors.Is(err, core.ErrKeyNotFoundOnDisk) {
			return writeResponse(w, "-KEYNOTFOUND\r\n")
		}
		return err
	}

	if _, err := io.WriteString(w, "+OK "+strconv.Itoa(len(val))+"\r\n"); err != nil {
		return err
	}
	_, err = w.Write(val)
	return err
}

func dispatchPut(db *core.DB, parts []string, r *bufio.Reader, w io.Writer, log *zap.SugaredLogger) error {
	if len(parts) < 2 {
		log.Debugw("protocol error", "err", fmt.Errorf("%w: PUT missing key", core.ErrProtocol))
		return writeResponse(w, "-NOKEY\r\n")
	}

	fields := strings.SplitN(parts[1], " ", 2)
	if fields[0] == "" {
		return writeResponse(w, "-NOKEY\r\n")
	}
	key := fields[0]

	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		log.Debugw("protocol error", "err", fmt.Errorf("%w: PUT missing size", core.ErrProtocol))
		return writeResponse(w, "-NOSIZE\r\n")
	}

	size, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil || size <= 0 {
		log.Debugw("protocol error", "err", fmt.Errorf("%w: PUT bad size", core.ErrProtocol))
		return writeResponse(w, "-BADSIZE\r\n")
	}
	if size > maxPutSize {
		log.Debugw("protocol error", "err", fmt.Errorf("%w: PUT size too large", core.ErrProtocol))
		return writeResponse(w, "-BADSIZE\r\n")
	}

	value := make([]byte, size)
	if _, err := io.ReadFull(r, value); err != nil {
		return err
	}

	if err := db.Put([]byte(key), value); err != nil {
		if errors.Is(err, core.ErrKeyTooLong) {
			return writeResponse(w, "-NOKEY\r\n")
		}
		return err
	}

	return writeResponse(w, "+OK\r\n")
}

// maxPutSize bounds accepted PUT payloads so a malformed or malicious
// size field can't force an enormous allocation.
const maxPutSize = 512 * 1024 * 1024

func writeResponse(w io.Writer, s string) error {
	_, err := io.WriteString(w, s)
	return err
}
