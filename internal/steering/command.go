// Package steering implements the live remote-control channel of a
// running simulation: a websocket client whose reader goroutine parses
// semicolon-separated ASCII messages into commands, and a FIFO queue the
// engine loop drains one command per iteration.
package steering

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the closed set of steering commands.
type Command int

const (
	None Command = iota
	Play
	Pause
	StepForward
	StepBack
	Stop
	GoTo
	LoadData
	ChangeName
	SyncRuns
)

func (c Command) String() string {
	switch c {
	case None:
		return "None"
	case Play:
		return "Play"
	case Pause:
		return "Pause"
	case StepForward:
		return "StepForward"
	case StepBack:
		return "StepBack"
	case Stop:
		return "Stop"
	case GoTo:
		return "GoTo"
	case LoadData:
		return "LoadData"
	case ChangeName:
		return "ChangeName"
	case SyncRuns:
		return "SyncRuns"
	}
	return "Undefined"
}

// Request is one parsed steering message.
type Request struct {
	Cmd  Command
	Year int    // GoTo target year, LoadData treatment year
	Path string // LoadData raster path
	Name string // ChangeName output basename
}

// ParseMessage parses a single message of the steering grammar:
//
//	cmd:<play|pause|stepf|stepb|stop>
//	load:<year>:<path>
//	name:<text>
//	goto:<year>
//	sync
func ParseMessage(msg string) (Request, error) {
	switch {
	case strings.HasPrefix(msg, "cmd:"):
		switch msg[len("cmd:"):] {
		case "play":
			return Request{Cmd: Play}, nil
		case "pause":
			return Request{Cmd: Pause}, nil
		case "stepf":
			return Request{Cmd: StepForward}, nil
		case "stepb":
			return Request{Cmd: StepBack}, nil
		case "stop":
			return Request{Cmd: Stop}, nil
		}
		return Request{}, fmt.Errorf("unknown steering command %q", msg)
	case strings.HasPrefix(msg, "load:"):
		parts := strings.SplitN(msg, ":", 3)
		if len(parts) != 3 {
			return Request{}, fmt.Errorf("malformed load message %q", msg)
		}
		year, err := strconv.Atoi(parts[1])
		if err != nil {
			return Request{}, fmt.Errorf("malformed load year in %q", msg)
		}
		return Request{Cmd: LoadData, Year: year, Path: parts[2]}, nil
	case strings.HasPrefix(msg, "name:"):
		return Request{Cmd: ChangeName, Name: msg[len("name:"):]}, nil
	case strings.HasPrefix(msg, "goto:"):
		year, err := strconv.Atoi(msg[len("goto:"):])
		if err != nil {
			return Request{}, fmt.Errorf("malformed goto year in %q", msg)
		}
		return Request{Cmd: GoTo, Year: year}, nil
	case msg == "sync":
		return Request{Cmd: SyncRuns}, nil
	}
	return Request{}, fmt.Errorf("unrecognized steering message %q", msg)
}
