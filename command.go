package mediabox

import "fmt"

// CommandKind enumerates the pipeline control operations.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandStart
	CommandStop
	CommandChangeRatio
	CommandChangePosition
	CommandChangeFilter
	CommandFocus
	CommandStartRecording
	CommandStopRecording
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandChangeRatio:
		return "change_ratio"
	case CommandChangePosition:
		return "change_position"
	case CommandChangeFilter:
		return "change_filter"
	case CommandFocus:
		return "focus"
	case CommandStartRecording:
		return "start_recording"
	case CommandStopRecording:
		return "stop_recording"
	default:
		return "unknown"
	}
}

// Command is one pipeline control request. A single Dispatch entry point
// replaces per-control wiring: UI layers build commands, the pipeline routes
// them.
type Command struct {
	Kind CommandKind

	Ratio  CameraRatio   // CommandChangeRatio
	Filter Filter        // CommandChangeFilter
	Focus  FocusCommand  // CommandFocus
	Sink   ContainerSink // CommandStartRecording
}

// Convenience constructors for the parameterized commands.

func StartCommand() Command          { return Command{Kind: CommandStart} }
func StopCommand() Command           { return Command{Kind: CommandStop} }
func ChangePositionCommand() Command { return Command{Kind: CommandChangePosition} }
func StopRecordingCommand() Command  { return Command{Kind: CommandStopRecording} }

func ChangeRatioCommand(ratio CameraRatio) Command {
	return Command{Kind: CommandChangeRatio, Ratio: ratio}
}

func ChangeFilterCommand(f Filter) Command {
	return Command{Kind: CommandChangeFilter, Filter: f}
}

func FocusAtCommand(cmd FocusCommand) Command {
	return Command{Kind: CommandFocus, Focus: cmd}
}

func StartRecordingCommand(sink ContainerSink) Command {
	return Command{Kind: CommandStartRecording, Sink: sink}
}

// ErrUnknownCommand is returned by Dispatch for an unrecognized command kind.
var ErrUnknownCommand = fmt.Errorf("mediabox: unknown command")
