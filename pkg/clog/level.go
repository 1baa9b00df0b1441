package clog

import (
	"context"
	"log/slog"

	"github.com/kazz187/taskwire/pkg/cerr"
)

// CodeToLevel maps an error code onto the slog level it is reported at.
func CodeToLevel(code cerr.Code) slog.Level {
	switch code.Level() {
	case cerr.LevelDebug:
		return slog.LevelDebug
	case cerr.LevelInfo:
		return slog.LevelInfo
	case cerr.LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// LogError attaches err to ctx and logs msg at the level err's code calls for.
func LogError(ctx context.Context, msg string, err error) {
	AddError(ctx, err)
	slog.Log(ctx, CodeToLevel(cerr.CodeOf(err)), msg)
}
