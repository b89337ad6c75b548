package container

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// Stream identifies which output stream a LogEntry was demultiplexed
// from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LogEntry is one line of container output, per spec.md section 4.4.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Stream    Stream
}

// Logs returns a lazy sequence of LogEntry values over entries, closing
// the channel when the runtime closes the underlying stream. Timestamps
// are parsed from the runtime's ISO-8601-with-Z prefix; on parse failure
// the current wall clock is used and the full line is kept as message.
func (c *Client) Logs(ctx context.Context, id string) (<-chan LogEntry, error) {
	cli, err := c.client()
	if err != nil {
		return nil, err
	}

	rc, err := cli.ContainerLogs(ctx, id, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
		Follow:     true,
	})
	if err != nil {
		return nil, wrapNotFoundAware(err, id)
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	entries := make(chan LogEntry)

	go func() {
		defer rc.Close()
		defer stdoutW.Close()
		defer stderrW.Close()
		_, _ = stdcopy.StdCopy(stdoutW, stderrW, rc)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); demuxStream(stdoutR, StreamStdout, entries) }()
	go func() { defer wg.Done(); demuxStream(stderrR, StreamStderr, entries) }()

	go func() {
		wg.Wait()
		close(entries)
	}()

	return entries, nil
}

func demuxStream(r io.Reader, stream Stream, out chan<- LogEntry) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- parseLine(scanner.Text(), stream)
	}
}

// parseLine splits the docker timestamp prefix (RFC3339Nano with Z) from
// the rest of the line; on parse failure the current wall clock is used
// and the entire line is kept as the message.
func parseLine(line string, stream Stream) LogEntry {
	if len(line) > 30 {
		if ts, err := time.Parse(time.RFC3339Nano, line[:30]); err == nil {
			return LogEntry{Timestamp: ts, Message: trimLeadingSpace(line[30:]), Stream: stream}
		}
	}
	return LogEntry{Timestamp: time.Now(), Message: line, Stream: stream}
}

func trimLeadingSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}
