// Package scpi builds and parses the SCPI strings understood by
// NGI-style electronic loads. It never touches the wire: transport,
// framing and retries belong to the caller.
package scpi

import "strconv"

// Terminator ends every command and reply on the wire.
const Terminator = "\n"

// Queries accepted by the load.
const (
	QueryIdentity    = "*IDN?"
	QueryVoltage     = "MEASure:VOLTage?"
	QueryCurrent     = "MEASure:CURRent?"
	QueryPower       = "MEASure:POWer?"
	QueryInputState  = "INPut:STATe?"
	QueryFunction    = "INPut:FUNCtion?"
	QuerySystemError = "SYSTem:ERRor?"
)

// Operating functions used by discharge profiles. The load knows more
// (CR, OCP, sweep modes) but these are the ones we program.
const (
	FunctionCC = "CC"
	FunctionCP = "CP"
	FunctionCV = "CV"
)

// functionNames maps INPut:FUNCtion? reply codes to names, per the
// instrument manual.
var functionNames = map[int]string{
	0: "CC", 1: "CV", 2: "CR", 3: "CP", 4: "CCD", 5: "ESR", 6: "AUTO",
	7: "DISCHARGE", 8: "CHARGE", 9: "OCP", 10: "CVD", 11: "CRD", 12: "MPPT",
	13: "CVCC", 14: "CRCC", 15: "CPCC", 16: "CVCR", 18: "CCDWAVE",
	19: "SWEEP", 20: "OPP", 21: "CPD", 22: "SZ",
}

// SetFunction builds the command selecting the operating function.
func SetFunction(function string) string {
	return "INPut:FUNCtion " + function
}

// SetLevel builds the command programming the static level for the
// given function. Levels are amperes for CC, watts for CP, volts for CV.
func SetLevel(function string, level float64) string {
	return "STATic:" + function + ":HIGH:LEVel " + strconv.FormatFloat(level, 'g', -1, 64)
}

// SetInput builds the input on/off command.
func SetInput(on bool) string {
	if on {
		return "INPut:STATe 1"
	}

	return "INPut:STATe 0"
}
