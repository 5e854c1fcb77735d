package enhance

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Placeholders expanded in CommandConfig.Args
const (
	PlaceholderConfig     = "{config}"
	PlaceholderCheckpoint = "{checkpoint}"
	PlaceholderInput      = "{input}"
	PlaceholderOutput     = "{output}"
)

// DefaultCommandArgs is the argv used when none is configured
var DefaultCommandArgs = []string{
	"inference.py",
	"--config", PlaceholderConfig,
	"--checkpoint_file", PlaceholderCheckpoint,
	"--input", PlaceholderInput,
	"--output", PlaceholderOutput,
}

// CommandConfig configures a backend that runs the model as an external program
type CommandConfig struct {
	Program         string
	Args            []string
	ModelConfigPath string
	CheckpointPath  string
	Timeout         time.Duration
}

// CommandBackend runs one program invocation per enhancement
type CommandBackend struct {
	config  CommandConfig
	program string

	initialized bool
	mu          sync.RWMutex
}

// NewCommandBackend creates a command backend; Init must be called before use
func NewCommandBackend(config CommandConfig) (*CommandBackend, error) {
	if config.Program == "" {
		return nil, fmt.Errorf("program cannot be empty")
	}

	if len(config.Args) == 0 {
		config.Args = DefaultCommandArgs
	}

	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Minute
	}

	return &CommandBackend{config: config}, nil
}

func (b *CommandBackend) Name() string { return "command" }

// Init resolves the program and checks that the model files exist
func (b *CommandBackend) Init(ctx context.Context) error {
	program, err := exec.LookPath(b.config.Program)
	if err != nil {
		return fmt.Errorf("failed to locate enhancement program %s: %w", b.config.Program, err)
	}

	for _, path := range []string{b.config.ModelConfigPath, b.config.CheckpointPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("model file unavailable: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.program = program
	b.initialized = true

	return nil
}

// Enhance runs the program and waits for it to exit
func (b *CommandBackend) Enhance(ctx context.Context, inputPath, outputPath string) error {
	b.mu.RLock()
	program, initialized := b.program, b.initialized
	b.mu.RUnlock()

	if !initialized {
		return ErrNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, b.expandArgs(inputPath, outputPath)...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("enhancement timed out after %v", b.config.Timeout)
		}
		return fmt.Errorf("enhancement program failed: %w: %s", err, tail(output.String(), 512))
	}

	return nil
}

func (b *CommandBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	return nil
}

func (b *CommandBackend) expandArgs(inputPath, outputPath string) []string {
	replacer := strings.NewReplacer(
		PlaceholderConfig, b.config.ModelConfigPath,
		PlaceholderCheckpoint, b.config.CheckpointPath,
		PlaceholderInput, inputPath,
		PlaceholderOutput, outputPath,
	)

	args := make([]string, len(b.config.Args))
	for i, arg := range b.config.Args {
		args[i] = replacer.Replace(arg)
	}
	return args
}

// tail returns at most n trailing bytes of s, trimmed
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
