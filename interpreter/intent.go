package interpreter

import (
	"strconv"
	"strings"
)

type Intent int

const (
	Unknown Intent = iota
	ReportTime
	ReportDate
	LightsOn
	LightsOff
	ReportStatus
	ExpressHappy
	ExpressExcited
	Scan
	RawLED
	RawFace
	Speak
)

var intentNames = map[Intent]string{
	Unknown:        "unknown",
	ReportTime:     "report-time",
	ReportDate:     "report-date",
	LightsOn:       "lights-on",
	LightsOff:      "lights-off",
	ReportStatus:   "report-status",
	ExpressHappy:   "express-happy",
	ExpressExcited: "express-excited",
	Scan:           "scan",
	RawLED:         "raw-led",
	RawFace:        "raw-face",
	Speak:          "speak",
}

func (i Intent) String() string {
	if name, ok := intentNames[i]; ok {
		return name
	}

	return "intent(" + strconv.Itoa(int(i)) + ")"
}

// Command is an intent plus the argument the direct console commands carry
// (LED state, expression name or text to say).
type Command struct {
	Intent Intent
	Arg    string
}

type rule struct {
	intent Intent
	match  func(text string) bool
}

func contains(keywords ...string) func(string) bool {
	return func(text string) bool {
		for _, k := range keywords {
			if strings.Contains(text, k) {
				return true
			}
		}

		return false
	}
}

func containsOrIs(keyword, exact string) func(string) bool {
	return func(text string) bool {
		return strings.Contains(text, keyword) || text == exact
	}
}

// rules is the priority table. The first matching row wins, so the order
// decides ambiguous phrases such as "what time should the lights go on".
var rules = []rule{
	{ReportTime, contains("time")},
	{ReportDate, contains("date", "what day")},
	{LightsOn, containsOrIs("lights on", "led on")},
	{LightsOff, containsOrIs("lights off", "led off")},
	{ReportStatus, contains("status", "how are you")},
	{ExpressHappy, contains("happy")},
	{ExpressExcited, contains("excited")},
	{Scan, contains("scan")},
}

// Interpret maps free text to an intent using keyword rules.
func Interpret(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Unknown
	}

	for _, r := range rules {
		if r.match(normalized) {
			return r.intent
		}
	}

	return Unknown
}
