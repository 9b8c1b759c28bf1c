package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/rakhadjo/studygroup-api/pkg/docker"
)

const codeOutputMaxChars = 10000

// ErrUnknownLanguage indicates the snippet matched no detection pattern.
var ErrUnknownLanguage = errors.New("could not detect programming language")

// ErrUnsupportedLanguage indicates the detected language has no runner.
var ErrUnsupportedLanguage = errors.New("execution not supported for language")

var languagePatterns = map[string][]*regexp.Regexp{
	"python": {
		regexp.MustCompile(`import\s+\w+`),
		regexp.MustCompile(`from\s+\w+\s+import`),
		regexp.MustCompile(`def\s+\w+\s*\(`),
		regexp.MustCompile(`print\s*\(`),
		regexp.MustCompile(`if\s+__name__\s*==\s*["']__main__["']`),
	},
	"javascript": {
		regexp.MustCompile(`console\.log\(`),
		regexp.MustCompile(`const\s+\w+\s*=`),
		regexp.MustCompile(`let\s+\w+\s*=`),
		regexp.MustCompile(`function\s+\w+\s*\(`),
		regexp.MustCompile(`=>\s*\{`),
		regexp.MustCompile(`require\(["']`),
	},
	"java": {
		regexp.MustCompile(`public\s+class\s+\w+`),
		regexp.MustCompile(`System\.out\.println\(`),
		regexp.MustCompile(`public\s+static\s+void\s+main`),
	},
	"cpp": {
		regexp.MustCompile(`#include\s*<\w+>`),
		regexp.MustCompile(`std::cout`),
		regexp.MustCompile(`int\s+main\s*\(`),
		regexp.MustCompile(`cout\s*<<`),
	},
}

type languageRunner struct {
	image   string
	cmd     func(code string) []string
	timeout time.Duration
}

var languageRunners = map[string]languageRunner{
	"python": {
		image:   "python:3.12-alpine",
		cmd:     func(code string) []string { return []string{"python", "-c", code} },
		timeout: 5 * time.Second,
	},
	"javascript": {
		image:   "node:20-alpine",
		cmd:     func(code string) []string { return []string{"node", "-e", code} },
		timeout: 5 * time.Second,
	},
}

// CodeExecutionResult summarises one snippet run.
type CodeExecutionResult struct {
	Success       bool    `json:"success"`
	Output        string  `json:"output"`
	Error         string  `json:"error"`
	Language      string  `json:"language"`
	ExecutionTime float64 `json:"execution_time"`
}

// CodeExecService detects a snippet's language and runs it in a sandbox.
type CodeExecService interface {
	DetectLanguage(code string) string
	Execute(ctx context.Context, code, language string) (CodeExecutionResult, error)
}

type codeExecService struct {
	executor docker.Executor
	logger   zerolog.Logger
}

// NewCodeExecService wraps a container executor with language detection.
func NewCodeExecService(executor docker.Executor, logger zerolog.Logger) CodeExecService {
	return &codeExecService{
		executor: executor,
		logger:   logger.With().Str("component", "code_exec_service").Logger(),
	}
}

// DetectLanguage scores the snippet against per-language patterns and returns
// the best match, or "" when nothing matches.
func (s *codeExecService) DetectLanguage(code string) string {
	best := ""
	bestScore := 0
	for lang, patterns := range languagePatterns {
		score := 0
		for _, pattern := range patterns {
			if pattern.MatchString(code) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && lang < best) {
			best = lang
			bestScore = score
		}
	}

	return best
}

// Execute runs the snippet in an isolated container. The language is detected
// when not given. Returns ErrUnknownLanguage or ErrUnsupportedLanguage for
// snippets that cannot be run; execution failures inside the sandbox are
// reported through the result, not the error.
func (s *codeExecService) Execute(ctx context.Context, code, language string) (CodeExecutionResult, error) {
	if language == "" {
		language = s.DetectLanguage(code)
	}
	if language == "" {
		return CodeExecutionResult{}, ErrUnknownLanguage
	}

	runner, ok := languageRunners[language]
	if !ok {
		return CodeExecutionResult{Language: language}, ErrUnsupportedLanguage
	}

	result, err := s.executor.Run(ctx, docker.ExecutionRequest{
		Image:           runner.image,
		Cmd:             runner.cmd(code),
		Timeout:         runner.timeout,
		NetworkDisabled: true,
		ReadOnlyFS:      true,
	})
	if err != nil && !result.TimedOut {
		s.logger.Error().Err(err).Str("language", language).Msg("sandbox run failed")
		return CodeExecutionResult{Language: language}, err
	}

	out := CodeExecutionResult{
		Success:       result.ExitCode == 0 && !result.TimedOut,
		Output:        truncateRunes(result.Stdout, codeOutputMaxChars),
		Error:         truncateRunes(result.Stderr, codeOutputMaxChars),
		Language:      language,
		ExecutionTime: result.Duration.Seconds(),
	}
	if result.TimedOut {
		out.Error = "execution timed out (" + runner.timeout.String() + " limit)"
	}

	return out, nil
}
