// Package command implements the driving-command pipeline: parsing of raw
// text lines into typed commands, and per-player bounded queues with
// sliding-window rate limiting.
package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/lucaswhitaker22/specracer/model"
)

// ErrorCode classifies a command pipeline rejection. Codes are wire-stable:
// they appear verbatim in command:result frames.
type ErrorCode string

const (
	CodeEmpty          ErrorCode = "EMPTY"
	CodeUnknownCommand ErrorCode = "UNKNOWN_COMMAND"
	CodeBadIntensity   ErrorCode = "BAD_INTENSITY"
	CodeBadGear        ErrorCode = "BAD_GEAR"
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
)

// Error is a typed command rejection carrying the offending token.
type Error struct {
	Code  ErrorCode
	Token string
}

func (e *Error) Error() string {
	if e.Token == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %q", e.Code, e.Token)
}

// aliases maps every accepted verb spelling to its canonical command kind.
var aliases = map[string]model.CommandKind{
	"accelerate": model.CmdAccelerate,
	"acc":        model.CmdAccelerate,
	"accel":      model.CmdAccelerate,
	"gas":        model.CmdAccelerate,
	"throttle":   model.CmdAccelerate,
	"brake":      model.CmdBrake,
	"br":         model.CmdBrake,
	"stop":       model.CmdBrake,
	"slow":       model.CmdBrake,
	"shift":      model.CmdShift,
	"sh":         model.CmdShift,
	"gear":       model.CmdShift,
	"pit":        model.CmdPit,
	"p":          model.CmdPit,
	"pitstop":    model.CmdPit,
	"coast":      model.CmdCoast,
	"c":          model.CmdCoast,
	"neutral":    model.CmdCoast,
}

// Parse turns one text line into a typed command. It is pure and safe to
// call from any goroutine. Missing intensity defaults to full; extra tokens
// after coast or pit are ignored.
func Parse(line string) (model.Command, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return model.Command{}, &Error{Code: CodeEmpty}
	}

	kind, ok := aliases[fields[0]]
	if !ok {
		return model.Command{}, &Error{Code: CodeUnknownCommand, Token: fields[0]}
	}

	switch kind {
	case model.CmdAccelerate, model.CmdBrake:
		intensity := 1.0
		if len(fields) > 1 {
			if len(fields) > 2 {
				return model.Command{}, &Error{Code: CodeBadIntensity, Token: strings.Join(fields[1:], " ")}
			}
			v, err := parseIntensity(fields[1])
			if err != nil {
				return model.Command{}, err
			}
			intensity = v
		}
		return model.Command{Kind: kind, Intensity: intensity}, nil

	case model.CmdShift:
		if len(fields) != 2 {
			return model.Command{}, &Error{Code: CodeBadGear, Token: strings.Join(fields[1:], " ")}
		}
		gear, err := strconv.Atoi(fields[1])
		if err != nil || gear < 1 || gear > 8 {
			return model.Command{}, &Error{Code: CodeBadGear, Token: fields[1]}
		}
		return model.Command{Kind: kind, Gear: gear}, nil

	default:
		return model.Command{Kind: kind}, nil
	}
}

// parseIntensity accepts a bare float in [0,1] or an integer percent in
// [0,100] suffixed with '%'.
func parseIntensity(tok string) (float64, error) {
	if pct, ok := strings.CutSuffix(tok, "%"); ok {
		n, err := strconv.Atoi(pct)
		if err != nil || n < 0 || n > 100 {
			return 0, &Error{Code: CodeBadIntensity, Token: tok}
		}
		return float64(n) / 100, nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		return 0, &Error{Code: CodeBadIntensity, Token: tok}
	}
	return v, nil
}

// Render produces the canonical text for a command; Parse(Render(c)) == c
// for every valid command.
func Render(cmd model.Command) string {
	switch cmd.Kind {
	case model.CmdAccelerate, model.CmdBrake:
		return fmt.Sprintf("%s %s", cmd.Kind, strconv.FormatFloat(cmd.Intensity, 'g', -1, 64))
	case model.CmdShift:
		return fmt.Sprintf("%s %d", cmd.Kind, cmd.Gear)
	default:
		return string(cmd.Kind)
	}
}
