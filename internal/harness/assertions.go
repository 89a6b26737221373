package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertCalibrationCount:
		return assertCalibrationCount(result, a)
	case AssertCalibration:
		return assertCalibration(result, a)
	case AssertGroup:
		return assertGroup(result, a)
	case AssertEditEvents:
		return assertEditEvents(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertCalibrationCount(result *Result, a Assertion) error {
	got := len(result.calibrationsWithRole(a.Role))
	if got == *a.Count {
		return nil
	}
	what := "calibrations"
	if a.Role != "" {
		what = string(a.Role) + " calibrations"
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s", *a.Count, what),
		Actual:   fmt.Sprintf("%d", got),
	}
}

func assertCalibration(result *Result, a Assertion) error {
	cals := result.calibrationsWithRole(a.Role)
	if len(cals) == 0 {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("a %s calibration", a.Role), Actual: "none"}
	}
	c := cals[0]

	var diffs []string
	if a.Title != "" && c.Title != a.Title {
		diffs = append(diffs, fmt.Sprintf("title %q != %q", c.Title, a.Title))
	}
	if a.Target != "" && c.Target != a.Target {
		diffs = append(diffs, fmt.Sprintf("target %q != %q", c.Target, a.Target))
	}
	if a.ReferenceWavelength != 0 && c.ReferenceWavelength != a.ReferenceWavelength {
		diffs = append(diffs, fmt.Sprintf("reference wavelength %s != %s", c.ReferenceWavelength, a.ReferenceWavelength))
	}
	if a.Executed != nil && c.Executed != *a.Executed {
		diffs = append(diffs, fmt.Sprintf("executed %t != %t", c.Executed, *a.Executed))
	}
	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s calibration %s to match", a.Role, c.ID),
		Actual:   strings.Join(diffs, "; "),
	}
}

func assertGroup(result *Result, a Assertion) error {
	exists := result.Group != ""
	if exists == *a.Exists {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("group exists=%t", *a.Exists),
		Actual:   fmt.Sprintf("exists=%t", exists),
	}
}

func assertEditEvents(result *Result, a Assertion) error {
	got := make([]string, 0, len(result.Events))
	for _, ev := range result.Events {
		got = append(got, ev.Kind)
	}
	if strings.Join(got, ",") == strings.Join(a.Kinds, ",") {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%v", a.Kinds),
		Actual:   fmt.Sprintf("%v", got),
	}
}
