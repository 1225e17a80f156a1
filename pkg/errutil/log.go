// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TokenLink Contributors

// Package errutil holds helpers for working with oops errors: extracting
// codes, turning them into log attributes, and asserting on them in tests.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops code carried by err, or "" for plain errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch c := oopsErr.Code().(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}

// ContextValue returns the value stored under key in the oops context of err.
func ContextValue(err error, key string) (any, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil, false
	}
	v, ok := oopsErr.Context()[key]
	return v, ok
}

// Attrs converts err into slog key/value pairs. Oops errors contribute their
// code and context; plain errors only their message.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// Log writes err at the given level together with any extra attributes.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, extra ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := append(Attrs(err), extra...)
	logger.Log(ctx, level, msg, attrs...)
}

// LogError logs an error with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelError, msg, err)
}
