/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package wmlogger

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/trustbloc/logutil-go/pkg/log"
	"go.uber.org/zap"
)

// Module is the name of the Watermill module used for logging.
const Module = "watermill"

type logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Logger wraps the Watermill logger adapter.
type Logger struct {
	logger logger
	fields watermill.LogFields
}

// New returns a new Watermill logger adapter.
func New() *Logger {
	return newWMLogger(log.New(Module))
}

func newWMLogger(l logger) *Logger {
	return &Logger{logger: l}
}

// Error logs an error.
func (l *Logger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error(msg, l.toZapFields(fields, err)...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, fields watermill.LogFields) {
	if log.GetLevel(Module) > log.INFO {
		return
	}

	l.logger.Info(msg, l.toZapFields(fields, nil)...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields watermill.LogFields) {
	if log.GetLevel(Module) > log.DEBUG {
		return
	}

	l.logger.Debug(msg, l.toZapFields(fields, nil)...)
}

// Trace logs a trace message. Trace messages are logged at the DEBUG level.
func (l *Logger) Trace(msg string, fields watermill.LogFields) {
	if log.GetLevel(Module) > log.DEBUG {
		return
	}

	l.logger.Debug(msg, l.toZapFields(fields, nil)...)
}

// With returns a logger that includes the given fields in each log.
func (l *Logger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &Logger{
		logger: l.logger,
		fields: l.fields.Add(fields),
	}
}

func (l *Logger) toZapFields(fields watermill.LogFields, err error) []zap.Field {
	zapFields := make([]zap.Field, 0, len(l.fields)+len(fields)+1)

	for k, v := range l.fields.Add(fields) {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	if err != nil {
		zapFields = append(zapFields, log.WithError(err))
	}

	return zapFields
}
