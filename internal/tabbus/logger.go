// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package tabbus

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"

	"github.com/vicinity-app/chatsync/internal/logging"
)

// watermillLogger routes Watermill's internal logging through zerolog.
type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{logger: logging.With().Str("component", "tabbus").Logger()}
}

func (l *watermillLogger) emit(ev *zerolog.Event, msg string, err error, fields watermill.LogFields) {
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.emit(l.logger.Error(), msg, err, fields)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.emit(l.logger.Info(), msg, nil, fields)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.emit(l.logger.Debug(), msg, nil, fields)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.emit(l.logger.Trace(), msg, nil, fields)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillLogger{logger: ctx.Logger()}
}
