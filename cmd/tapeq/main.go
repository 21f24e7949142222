// Command tapeq drives a single queuefile.Engine from the shell, one
// subcommand per operation. Flag parsing and stdout/stderr formatting stay
// here rather than bleeding into the Engine.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mvaleed/tapeq/internal/queuefile"
	"github.com/mvaleed/tapeq/internal/queuefile/mmapview"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	path := os.Args[1]
	cmd := os.Args[2]
	args := os.Args[3:]

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var err error
	switch cmd {
	case "add":
		err = runAdd(path, logger, args)
	case "peek":
		err = runPeek(path, logger)
	case "remove":
		err = runRemove(path, logger)
	case "size":
		err = runSize(path, logger)
	case "clear":
		err = runClear(path, logger)
	case "dump":
		err = runDump(path)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "tapeq: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tapeq <file> <command> [args]

Commands:
  add [bytes]      append bytes as one element, or stdin if no bytes given
  peek             print the head element to stdout
  remove           drop the head element
  size             print the number of live elements
  clear            reset the queue to empty
  dump             print every element's offset and length (read-only, no lock)
`)
}

func openEngine(path string, logger *slog.Logger) (*queuefile.Engine, error) {
	return queuefile.Open(path, queuefile.WithLogger(logger))
}

func runAdd(path string, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var payload []byte
	var err error
	if fs.NArg() > 0 {
		payload = []byte(fs.Arg(0))
	} else {
		payload, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	e, err := openEngine(path, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Add(payload, 0, len(payload))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("add failed")
	}
	return e.Flush()
}

func runPeek(path string, logger *slog.Logger) error {
	e, err := openEngine(path, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	payload, err := e.Peek()
	if err != nil {
		return err
	}
	if payload == nil {
		fmt.Println("(empty)")
		return nil
	}
	os.Stdout.Write(payload)
	fmt.Println()
	return nil
}

func runRemove(path string, logger *slog.Logger) error {
	e, err := openEngine(path, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Remove()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("remove failed: queue empty")
	}
	return e.Flush()
}

func runSize(path string, logger *slog.Logger) error {
	e, err := openEngine(path, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.Size()
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func runClear(path string, logger *slog.Logger) error {
	e, err := openEngine(path, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	ok, err := e.Clear()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("clear failed")
	}
	return e.Flush()
}

// runDump walks the file directly through a read-only mapping rather than
// through the Engine, so it can be pointed at a queue another process
// currently has open. It trusts the header at face value; a corrupt file
// will simply print a mangled walk rather than failing closed, which is
// fine for a diagnostic tool.
func runDump(path string) error {
	v, err := mmapview.Open(path)
	if err != nil {
		return err
	}
	defer v.Close()

	fileLength, elementCount, firstOffset, lastOffset, err := v.Header()
	if err != nil {
		return err
	}

	fmt.Printf("fileLength:   %d\n", fileLength)
	fmt.Printf("elementCount: %d\n", elementCount)
	fmt.Printf("firstOffset:  %d\n", firstOffset)
	fmt.Printf("lastOffset:   %d\n", lastOffset)
	fmt.Println()

	elements, err := v.Elements()
	if err != nil {
		return err
	}
	if len(elements) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	for i, el := range elements {
		fmt.Printf("element #%-6d offset=%-10d length=%d\n", i, el.Offset, el.Length)
	}

	fmt.Printf("\nTotal: %d elements\n", len(elements))
	return nil
}
