// Package serial exposes the rig command protocol over a serial line:
// one JSON Command per line in, one JSON Reply per line out.
package serial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	tarm "github.com/tarm/serial"

	"github.com/cjeanneret/FocusGo/internal/debug"
	"github.com/cjeanneret/FocusGo/internal/logic/rig"
)

// MaxLineBytes caps one command line. Longer lines are discarded.
const MaxLineBytes = 4096

// Dispatcher executes commands.
type Dispatcher interface {
	Dispatch(rig.Command) rig.Reply
}

// Config holds serial port configuration.
type Config struct {
	Device      string        // e.g. "/dev/ttyACM0"
	Baud        int           // 9600 for the original Teensy link
	ReadTimeout time.Duration // 0 = blocking reads
}

// Open opens a native serial port.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device is empty")
	}
	port, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return port, nil
}

// ListenAndServe opens the port and serves commands until ctx is done.
func ListenAndServe(ctx context.Context, cfg Config, d Dispatcher) error {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	port, err := Open(cfg)
	if err != nil {
		return err
	}
	defer port.Close()

	debug.Info("Serial link on %s @ %d baud", cfg.Device, cfg.Baud)
	err = Serve(ctx, port, d)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve reads newline-terminated commands from rw and writes one reply
// line per command. It returns nil at EOF and ctx.Err() once ctx is done;
// ctx is checked between reads, so rw should have a read timeout.
// A read returning no data and no error is treated as a timeout.
func Serve(ctx context.Context, rw io.ReadWriter, d Dispatcher) error {
	buf := make([]byte, 256)
	line := make([]byte, 0, 256)
	overflow := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := rw.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < MaxLineBytes {
					line = append(line, b)
				} else {
					overflow = true
				}
				continue
			}
			if overflow {
				if err := writeReply(rw, rig.Reply{Error: fmt.Sprintf("line exceeds %d bytes", MaxLineBytes)}); err != nil {
					return err
				}
			} else if err := handleLine(rw, line, d); err != nil {
				return err
			}
			line = line[:0]
			overflow = false
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("serial read: %w", rerr)
		}
	}
}

func handleLine(w io.Writer, line []byte, d Dispatcher) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	var cmd rig.Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		debug.Verbose("Serial: bad command %q: %v", line, err)
		return writeReply(w, rig.Reply{Error: fmt.Sprintf("invalid command: %v", err)})
	}
	debug.Trace("Serial: %s", cmd.MsgType)
	return writeReply(w, d.Dispatch(cmd))
}

func writeReply(w io.Writer, reply rig.Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}
