package altergolden

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"reflect"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type contextKey string

const loggerContextKey contextKey = "logger"

// WithLogger returns a copy of ctx carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns the logger attached to ctx, if any.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

func generateRandomHexString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set. If the `log` tag is set, the
// value specified overrides the field's actual value.
// Ex: `log:"[redacted]"` will cause "[redacted]" to be shown as the
// field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	attrs := make([]slog.Attr, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if jsonTag, ok := field.Tag.Lookup("json"); ok {
			jsonName, _, _ := strings.Cut(jsonTag, ",")
			if jsonName == "-" {
				continue
			}
			if jsonName != "" {
				name = jsonName
			}
		}
		if logTag, ok := field.Tag.Lookup("log"); ok {
			attrs = append(attrs, slog.String(name, logTag))
			continue
		}
		fv := val.Field(i)
		switch fv.Kind() {
		case reflect.Struct, reflect.Ptr:
			attrs = append(
				attrs,
				slog.Attr{Key: name, Value: structToSlogValue(fv.Interface())},
			)
		default:
			attrs = append(attrs, slog.Any(name, fv.Interface()))
		}
	}
	return slog.GroupValue(attrs...)
}
