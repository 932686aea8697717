package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// invokeCLI runs one agent CLI process, parsing its stdout with dec, and
// normalizes the outcome to an Output.
func invokeCLI(ctx context.Context, logger *slog.Logger, spec processSpec, dec eventDecoder, req Request) (*Output, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	label := req.Options.Label
	parser := newStreamParser(dec, func(line string) {
		logger.Debug("agent progress", "label", label, "line", line)
		if req.Options.OnProgress != nil {
			req.Options.OnProgress(line)
		}
	})

	logger.Debug("invoking agent", "label", label, "command", spec.Command, "dir", spec.Dir, "timeout", spec.Timeout)

	res, err := runProcess(ctx, spec, parser.Feed)

	st := parser.State()
	out := &Output{
		Stdout: st.FinalText(),
		Usage:  st.Snapshot(),
		Errors: st.Errors(),
	}
	out.IsError = st.IsError
	if res != nil {
		out.Stderr = res.Stderr
		out.ExitCode = res.ExitCode
		out.Duration = res.Duration
	}

	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) {
			te.Partial = out
			logger.Warn("agent timed out", "label", label, "after", spec.Timeout)
		}
		return nil, err
	}

	logger.Debug("agent finished",
		"label", label,
		"exit_code", out.ExitCode,
		"turns", out.Usage.Turns,
		"tokens", out.Usage.TotalTokens(),
		"cost_usd", out.Usage.CostUSD,
		"duration", out.Duration,
	)
	return out, nil
}
