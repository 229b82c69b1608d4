package localipc

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"github.com/dugdmitry/adhoc-routing/transport"
)

// RunConsole dials path and drives an interactive readline-backed console
// against a running daemon's local endpoint; each line is sent verbatim and
// the reply is streamed back until the connection's read side goes idle.
func RunConsole(path string, out io.Writer) error {
	conn, err := transport.Dial(path)
	if err != nil {
		return fmt.Errorf("localipc: dial %s: %w", path, err)
	}
	defer conn.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	reader := bufio.NewReader(conn)
	for {
		cmd, err := line.Prompt("adhocd> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return nil
			}
			return err
		}
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		line.AppendHistory(cmd)
		if cmd == "quit" || cmd == "exit" {
			return nil
		}
		if _, err := fmt.Fprintln(conn, cmd); err != nil {
			return err
		}
		if err := streamReply(reader, out); err != nil {
			return err
		}
	}
}

// streamReply blocks for the first byte of the reply, then drains only what
// is already buffered. There is no framing: any part of a reply that
// arrives after the buffer has drained is printed with the next command's
// reply.
func streamReply(r *bufio.Reader, out io.Writer) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, err := out.Write([]byte{b}); err != nil {
		return err
	}
	for r.Buffered() > 0 {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if _, err := out.Write([]byte{b}); err != nil {
			return err
		}
	}
	return nil
}
