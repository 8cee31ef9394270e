package logger

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/vigil/sym"
)

var bufPool = buffer.NewPool()

// minimalEncoder renders calm, compact console lines:
//
//	13:04:35  t.registry  Polling started  fj-1042
//
// Severity is only badged for warnings and errors, component names are
// abbreviated, and well-known fields collapse to bare values.
type minimalEncoder struct {
	zapcore.Encoder // base encoder for field serialization
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := bufPool.Get()

	line.AppendString(activePalette().time)
	line.AppendString(ent.Time.Format("15:04:05"))
	line.AppendString(colorReset)

	if badge := levelBadge(ent.Level); badge != "" {
		line.AppendString("  ")
		line.AppendString(badge)
	}

	if ent.LoggerName != "" {
		line.AppendString("  ")
		line.AppendString(componentColor(ent.LoggerName))
		line.AppendString(abbreviateName(ent.LoggerName))
		line.AppendString(colorReset)
	}

	line.AppendString("  ")
	line.AppendString(colorizeMessage(ent.Message))

	if len(fields) > 0 {
		line.AppendString("  ")
		line.AppendString(formatFields(fields))
	}

	line.AppendString("\n")
	return line, nil
}

// levelBadge renders a bold badge for warnings and above; Info and Debug
// stay unbadged to keep routine lines quiet.
func levelBadge(level zapcore.Level) string {
	p := activePalette()
	switch level {
	case zapcore.WarnLevel:
		return colorBold + p.warnBg + p.warn + "WARN" + colorReset
	case zapcore.ErrorLevel:
		return colorBold + p.errBg + p.err + "ERROR" + colorReset
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + p.errBg + p.err + level.CapitalString() + colorReset
	default:
		return ""
	}
}

// abbreviateName shortens component names: track.registry -> t.registry.
func abbreviateName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return string(parts[0][0]) + "." + strings.Join(parts[1:], ".")
	}
	return name
}

var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// colorizeMessage colors bracketed contexts ([job:fj-1042], [reconcile]),
// segment symbols, and picks the base text color by message class.
func colorizeMessage(msg string) string {
	p := activePalette()
	base := messageColor(msg)

	var out strings.Builder
	last := 0
	for _, match := range bracketPattern.FindAllStringSubmatchIndex(msg, -1) {
		if before := msg[last:match[0]]; before != "" {
			out.WriteString(base)
			out.WriteString(colorizeSymbols(before, p.symbol))
			out.WriteString(colorReset)
		}

		color := p.stage
		if strings.HasPrefix(msg[match[2]:match[3]], "job:") {
			color = p.id
		}
		out.WriteString(color)
		out.WriteString(msg[match[0]:match[1]])
		out.WriteString(colorReset)

		last = match[1]
	}
	if rest := msg[last:]; rest != "" {
		out.WriteString(base)
		out.WriteString(colorizeSymbols(rest, p.symbol))
		out.WriteString(colorReset)
	}
	return out.String()
}

func colorizeSymbols(text, color string) string {
	for _, s := range []string{sym.Vigil, sym.Wake, sym.Rest} {
		text = strings.ReplaceAll(text, s, color+s+colorReset)
	}
	return text
}

// fieldValue renders a single zap field as text.
func fieldValue(field zapcore.Field) string {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", field.Integer)
	default:
		if field.Interface != nil {
			return fmt.Sprintf("%v", field.Interface)
		}
		return ""
	}
}

// specialFieldKeys get dedicated formatting in formatFields and are
// excluded from the generic key=value pass.
var specialFieldKeys = map[string]bool{
	FieldJobID:       true,
	FieldClientID:    true,
	FieldRequestID:   true,
	FieldDurationMS:  true,
	"active":         true,
	"tracked":        true,
	"message_length": true,
}

// formatFields collapses well-known fields to compact colored values and
// emits everything else as key=value so nothing is silently discarded.
//
//	{"job_id": "fj-1042", "active": 1, "tracked": 12}
//	-> "fj-1042 (1 active, 12 tracked)"
func formatFields(fields []zapcore.Field) string {
	p := activePalette()
	var values []string
	var active, tracked string

	for _, field := range fields {
		switch field.Key {
		case FieldJobID, FieldClientID, FieldRequestID:
			if v := fieldValue(field); v != "" {
				values = append(values, p.id+v+colorReset)
			}
		case "active":
			active = fieldValue(field)
		case "tracked":
			tracked = fieldValue(field)
		case "message_length":
			if v := fieldValue(field); v != "" {
				values = append(values, p.number+v+colorReset+" chars")
			}
		case FieldDurationMS:
			if v := fieldValue(field); v != "" {
				values = append(values, p.number+v+colorReset+"ms")
			}
		}
	}

	// Registry stats render as one parenthesized pair when both are present.
	switch {
	case active != "" && tracked != "":
		values = append(values, p.fg+"("+p.number+active+colorReset+p.fg+" active, "+p.number+tracked+colorReset+p.fg+" tracked)"+colorReset)
	case active != "":
		values = append(values, p.number+active+colorReset+" active")
	case tracked != "":
		values = append(values, p.number+tracked+colorReset+" tracked")
	}

	// Everything else goes through zap's own field machinery so complex
	// types (arrays, durations, errors) keep a faithful text form.
	rest := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		if specialFieldKeys[field.Key] {
			continue
		}
		field.AddTo(rest)
	}
	keys := make([]string, 0, len(rest.Fields))
	for k := range rest.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		values = append(values, p.fg+k+"="+fmt.Sprintf("%v", rest.Fields[k])+colorReset)
	}

	return strings.Join(values, " ")
}
