package snapshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

var (
	errNotBlob     = errors.New("not a blob")
	errBatchStart  = errors.New("cannot start git cat-file --batch")
	errBatchHeader = errors.New("unexpected git cat-file header")
)

// catFile serves object reads from one long-running `git cat-file --batch`
// process. Requests are serialized; objects are named "<commit>:<path>" so a
// single process covers every ref.
type catFile struct {
	dir string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

func (c *catFile) start() error {
	cmd := exec.Command("git", "-c", "core.quotePath=false", "cat-file", "--batch")
	cmd.Dir = c.dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: %w", errBatchStart, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("%w: %w", errBatchStart, err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("%w: %w", errBatchStart, err)
	}
	c.cmd, c.stdin, c.stdout = cmd, stdin, bufio.NewReaderSize(stdout, 64<<10)
	return nil
}

// blob returns the content of obj. A missing object is ErrNotFound.
func (c *catFile) blob(ctx context.Context, obj string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.cmd == nil {
		if err := c.start(); err != nil {
			return nil, err
		}
	}
	data, err := c.request(obj)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, errNotBlob) {
		// The stream position is unknown now.
		c.stop(true)
	}
	return data, err
}

func (c *catFile) request(obj string) ([]byte, error) {
	if _, err := io.WriteString(c.stdin, obj+"\n"); err != nil {
		return nil, fmt.Errorf("cat-file %s: %w", obj, err)
	}
	header, err := c.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("cat-file %s: %w", obj, err)
	}
	header = strings.TrimSuffix(header, "\n")
	if strings.HasSuffix(header, " missing") || strings.HasSuffix(header, " ambiguous") {
		return nil, fmt.Errorf("%s: %w", obj, ErrNotFound)
	}

	// <oid> <type> <size>
	fields := strings.Fields(header)
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %q", errBatchHeader, header)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: %q", errBatchHeader, header)
	}
	buf := make([]byte, size+1)
	if _, err := io.ReadFull(c.stdout, buf); err != nil {
		return nil, fmt.Errorf("cat-file %s: %w", obj, err)
	}
	if buf[size] != '\n' {
		return nil, fmt.Errorf("%w: object %s not terminated", errBatchHeader, obj)
	}
	if fields[1] != "blob" {
		return nil, fmt.Errorf("%s is a %s: %w", obj, fields[1], errNotBlob)
	}
	return buf[:size], nil
}

// stop ends the process. kill is used when unread output may be pending.
func (c *catFile) stop(kill bool) error {
	if c.cmd == nil {
		return nil
	}
	_ = c.stdin.Close()
	if kill {
		_ = c.cmd.Process.Kill()
	}
	err := c.cmd.Wait()
	c.cmd, c.stdin, c.stdout = nil, nil, nil
	if kill {
		return nil
	}
	return err
}

func (c *catFile) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop(false)
}
