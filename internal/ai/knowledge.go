package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"battlegate/pkg/logger"
)

// KnowledgeBase wraps a line-oriented retrieval subprocess: one query line
// on stdin, one JSON answer line on stdout. Used by the tier-5 engine to
// enrich its prompt; any failure simply drops the enrichment.
type KnowledgeBase struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *logger.ColoredLogger
}

// StartKnowledgeBase launches the subprocess from a shell-style command
// line ("python3 kb.py --index dex").
func StartKnowledgeBase(command string) (*KnowledgeBase, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty knowledge base command")
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("knowledge base start: %w", err)
	}

	return &KnowledgeBase{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		logger: logger.AILogger,
	}, nil
}

type kbAnswer struct {
	Advice string `json:"advice"`
}

// Query sends one query and waits for the answer line, bounded by ctx.
func (kb *KnowledgeBase) Query(ctx context.Context, query string) (string, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	query = strings.ReplaceAll(query, "\n", " ")
	if _, err := io.WriteString(kb.stdin, query+"\n"); err != nil {
		return "", fmt.Errorf("knowledge base write: %w", err)
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := kb.stdout.ReadString('\n')
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", fmt.Errorf("knowledge base read: %w", res.err)
		}
		var answer kbAnswer
		if err := json.Unmarshal([]byte(res.line), &answer); err != nil {
			return "", fmt.Errorf("knowledge base answer decode: %w", err)
		}
		return answer.Advice, nil
	}
}

// Close terminates the subprocess.
func (kb *KnowledgeBase) Close() error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.stdin.Close()
	if kb.cmd.Process != nil {
		kb.cmd.Process.Kill()
	}
	return kb.cmd.Wait()
}
