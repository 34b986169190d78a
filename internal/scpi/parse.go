package scpi

import (
	"strconv"
	"strings"

	"codeberg.org/hvlab/dischargectl/internal/errors"
)

var errFactory = errors.New()

// Identity holds the fields of a *IDN? reply.
type Identity struct {
	Manufacturer string
	Model        string
	Serial       string
	Firmware     string
	Raw          string
}

func (id Identity) String() string {
	return id.Raw
}

// ParseMeasurement converts a measurement reply to a float, stripping
// the expected unit suffix ("V", "A", "W"). Replies that contain
// anything besides a single number are rejected.
func ParseMeasurement(reply, unit string) (float64, error) {
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ToUpper(reply), strings.ToUpper(unit), ""))
	if cleaned == "" {
		return 0, errFactory.New(ErrEmptyReply).
			WithData(struct{ Reply string }{Reply: reply})
	}

	if !isNumeric(cleaned) {
		return 0, errFactory.New(ErrMalformedNumber).
			WithData(struct{ Reply string }{Reply: reply})
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrMalformedNumber, err).
			WithData(struct{ Reply string }{Reply: reply})
	}

	return value, nil
}

// isNumeric accepts the digit charset plus at most one each of '.',
// '-' and '+'. This rejects replies like "ERROR" or doubled-up noise
// ("4..00") before ParseFloat sees them.
func isNumeric(s string) bool {
	var dots, minuses, pluses int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.':
			dots++
		case r == '-':
			minuses++
		case r == '+':
			pluses++
		case r == 'e' || r == 'E':
		default:
			return false
		}
	}

	return dots <= 1 && minuses <= 1 && pluses <= 1
}

// ParseInputState interprets an INPut:STATe? reply.
func ParseInputState(reply string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(reply)) {
	case "1", "ON":
		return true, nil
	case "0", "OFF":
		return false, nil
	}

	return false, errFactory.New(ErrMalformedInputState).
		WithData(struct{ Reply string }{Reply: reply})
}

// ParseFunction interprets an INPut:FUNCtion? reply. The instrument
// answers with a numeric code; some firmware echoes the name instead,
// so both are accepted.
func ParseFunction(reply string) (string, error) {
	cleaned := strings.TrimSpace(reply)
	if cleaned == "" {
		return "", errFactory.New(ErrEmptyReply)
	}

	if code, err := strconv.Atoi(cleaned); err == nil {
		name, ok := functionNames[code]
		if !ok {
			return "", errFactory.New(ErrUnknownFunction).
				WithData(struct{ Code int }{Code: code})
		}

		return name, nil
	}

	name := strings.ToUpper(cleaned)
	for _, known := range functionNames {
		if name == known {
			return name, nil
		}
	}

	return "", errFactory.New(ErrUnknownFunction).
		WithData(struct{ Reply string }{Reply: reply})
}

// ParseIdentity splits a comma-separated *IDN? reply. Instruments
// disagree on field count, so missing trailing fields stay empty.
func ParseIdentity(reply string) (Identity, error) {
	raw := strings.TrimSpace(reply)
	if raw == "" {
		return Identity{}, errFactory.New(ErrEmptyReply)
	}

	id := Identity{Raw: raw}
	parts := strings.Split(raw, ",")
	fields := []*string{&id.Manufacturer, &id.Model, &id.Serial, &id.Firmware}
	for i, part := range parts {
		if i >= len(fields) {
			break
		}
		*fields[i] = strings.TrimSpace(part)
	}

	return id, nil
}

// ParseSystemError interprets a SYSTem:ERRor? reply of the form
// `<code>,"<message>"`. Code 0 means the error queue is empty.
func ParseSystemError(reply string) (int, string, error) {
	cleaned := strings.TrimSpace(reply)
	codePart, messagePart, found := strings.Cut(cleaned, ",")
	if !found {
		return 0, "", errFactory.New(ErrMalformedReply).
			WithData(struct{ Reply string }{Reply: reply})
	}

	code, err := strconv.Atoi(strings.TrimSpace(codePart))
	if err != nil {
		return 0, "", errFactory.Wrap(ErrMalformedReply, err).
			WithData(struct{ Reply string }{Reply: reply})
	}

	message := strings.Trim(strings.TrimSpace(messagePart), `"`)

	return code, message, nil
}
